package auth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-gateway/domain"
	"chat-gateway/errors"
)

const testSecret = "test_secret_key_for_gateway_tests"

func TestTokenManager_GenerateAndValidate(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenManager(testSecret, "chat-gateway", time.Hour)

	token, err := tokens.Generate(7, "alice")
	req.NoError(err)

	claims, err := tokens.Validate(token)
	req.NoError(err)
	req.Equal(int64(7), claims.UserID)
	req.Equal("alice", claims.Username)
	req.Equal("chat-gateway", claims.Issuer)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenManager(testSecret, "chat-gateway", time.Hour)
	other := NewTokenManager("a_completely_different_secret", "chat-gateway", time.Hour)

	token, err := other.Generate(7, "alice")
	req.NoError(err)

	_, err = tokens.Validate(token)
	req.Error(err)
}

func TestTokenManager_RejectsExpiredToken(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenManager(testSecret, "chat-gateway", -time.Minute)

	token, err := tokens.Generate(7, "alice")
	req.NoError(err)

	_, err = tokens.Validate(token)
	req.Error(err)
}

func TestTokenResolver_AllFailuresCollapseToAuthFailure(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenManager(testSecret, "chat-gateway", time.Hour)
	resolver := NewTokenResolver(tokens, slog.Default())

	// Malformed token
	_, err := resolver.Resolve(context.Background(), "not-a-jwt")
	req.ErrorIs(err, errors.ErrAuthFailure)

	// Bad signature
	forged, err := NewTokenManager("wrong_secret", "chat-gateway", time.Hour).Generate(7, "alice")
	req.NoError(err)
	_, err = resolver.Resolve(context.Background(), forged)
	req.ErrorIs(err, errors.ErrAuthFailure)

	// Valid token referencing a missing principal
	ghost, err := tokens.Generate(0, "")
	req.NoError(err)
	_, err = resolver.Resolve(context.Background(), ghost)
	req.ErrorIs(err, errors.ErrAuthFailure)
}

func TestTokenResolver_Success(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenManager(testSecret, "chat-gateway", time.Hour)
	resolver := NewTokenResolver(tokens, slog.Default())

	token, err := tokens.Generate(7, "alice")
	req.NoError(err)

	principal, err := resolver.Resolve(context.Background(), token)
	req.NoError(err)
	req.Equal(domain.Principal{ID: 7, Username: "alice"}, principal)
}

type countingResolver struct {
	calls     int
	principal domain.Principal
	err       error
}

func (r *countingResolver) Resolve(context.Context, string) (domain.Principal, error) {
	r.calls++
	return r.principal, r.err
}

func TestCachingResolver_MemoizesSuccess(t *testing.T) {
	req := require.New(t)
	inner := &countingResolver{principal: domain.Principal{ID: 7, Username: "alice"}}

	resolver, err := NewCachingResolver(inner, 16, time.Hour)
	req.NoError(err)

	// When the same token is resolved twice
	for i := 0; i < 2; i++ {
		principal, err := resolver.Resolve(context.Background(), "token-a")
		req.NoError(err)
		req.Equal(int64(7), principal.ID)
	}

	// Then the inner resolver is only consulted once
	req.Equal(1, inner.calls)
}

func TestCachingResolver_EntriesExpire(t *testing.T) {
	req := require.New(t)
	inner := &countingResolver{principal: domain.Principal{ID: 7, Username: "alice"}}

	resolver, err := NewCachingResolver(inner, 16, time.Millisecond)
	req.NoError(err)

	_, err = resolver.Resolve(context.Background(), "token-a")
	req.NoError(err)

	time.Sleep(5 * time.Millisecond)

	_, err = resolver.Resolve(context.Background(), "token-a")
	req.NoError(err)
	req.Equal(2, inner.calls)
}

func TestCachingResolver_DoesNotCacheFailures(t *testing.T) {
	req := require.New(t)
	inner := &countingResolver{err: errors.ErrAuthFailure}

	resolver, err := NewCachingResolver(inner, 16, time.Hour)
	req.NoError(err)

	for i := 0; i < 2; i++ {
		_, err := resolver.Resolve(context.Background(), "token-a")
		req.ErrorIs(err, errors.ErrAuthFailure)
	}
	req.Equal(2, inner.calls)
}
