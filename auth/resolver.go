package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"chat-gateway/contract"
	"chat-gateway/domain"
	"chat-gateway/errors"
)

// TokenResolver resolves an opaque bearer token into a Principal by
// validating it as a JWT. Every failure mode collapses to ErrAuthFailure
// for the caller; the underlying cause is only logged, since the gateway
// does not distinguish them for protocol purposes.
type TokenResolver struct {
	tokens *TokenManager
	log    *slog.Logger
}

func NewTokenResolver(tokens *TokenManager, log *slog.Logger) *TokenResolver {
	return &TokenResolver{tokens: tokens, log: log}
}

func (r *TokenResolver) Resolve(_ context.Context, token string) (domain.Principal, error) {
	claims, err := r.tokens.Validate(token)
	if err != nil {
		r.log.Debug("Token validation failed", "error", err)
		return domain.Principal{}, errors.ErrAuthFailure
	}
	if claims.UserID <= 0 {
		r.log.Debug("Token valid but principal is missing", "user_id", claims.UserID)
		return domain.Principal{}, errors.ErrAuthFailure
	}
	return domain.Principal{ID: claims.UserID, Username: claims.Username}, nil
}

type cachedPrincipal struct {
	principal domain.Principal
	expiresAt time.Time
}

// CachingResolver memoizes successful resolutions in an LRU keyed by the
// raw token. Entries carry the token's own expiry so a cached hit can
// never outlive the token it came from. Failures are not cached.
type CachingResolver struct {
	inner contract.Resolver
	cache *lru.Cache[string, cachedPrincipal]
	ttl   time.Duration
}

func NewCachingResolver(inner contract.Resolver, size int, ttl time.Duration) (*CachingResolver, error) {
	cache, err := lru.New[string, cachedPrincipal](size)
	if err != nil {
		return nil, fmt.Errorf("resolver cache: %w", err)
	}
	return &CachingResolver{inner: inner, cache: cache, ttl: ttl}, nil
}

func (r *CachingResolver) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	if entry, ok := r.cache.Get(token); ok {
		if time.Now().Before(entry.expiresAt) {
			return entry.principal, nil
		}
		r.cache.Remove(token)
	}

	principal, err := r.inner.Resolve(ctx, token)
	if err != nil {
		return domain.Principal{}, err
	}

	r.cache.Add(token, cachedPrincipal{principal: principal, expiresAt: time.Now().Add(r.ttl)})
	return principal, nil
}
