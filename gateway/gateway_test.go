package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-gateway/auth"
	"chat-gateway/domain"
	"chat-gateway/errors"
	"chat-gateway/mocks"
	"chat-gateway/observability"
	"chat-gateway/runtime"
)

const testSecret = "gateway_integration_test_secret"

type harness struct {
	gateway  *Gateway
	registry *runtime.Registry
	tokens   *auth.TokenManager
	server   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	registry := runtime.NewRegistry()
	tokens := auth.NewTokenManager(testSecret, "chat-gateway", time.Hour)
	resolver := auth.NewTokenResolver(tokens, slog.Default())
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	gw := New(slog.Default(), registry, resolver, metrics, SessionConfig{
		OutboundBufferSize: 16,
		HandshakeTimeout:   time.Second,
		WriteTimeout:       time.Second,
		PongTimeout:        10 * time.Second,
		PingInterval:       5 * time.Second,
		MaxFrameSize:       4096,
	})

	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)

	return &harness{gateway: gw, registry: registry, tokens: tokens, server: server}
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials with a freshly minted token and consumes the
// connection_status envelope of the completed handshake.
func (h *harness) connect(t *testing.T, userID int64, username string) *websocket.Conn {
	t.Helper()

	token, err := h.tokens.Generate(userID, username)
	require.NoError(t, err)

	conn := h.dial(t, token)
	status := readEnvelope(t, conn)
	require.Equal(t, "connection_status", status["type"])
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(frame, &envelope))
	return envelope
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func expectCloseCode(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, code, closeErr.Code)
}

func TestHandshake_MissingToken_ClosedWith4001(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// When a client connects without a bearer token
	conn := h.dial(t, "")

	// Then the connection is closed with 4001 before reaching Authenticated
	expectCloseCode(t, conn, CloseUnauthorized)

	// And the session never appears in any topic's subscriber set
	req.Zero(h.registry.SessionCount())
	req.Zero(h.registry.TopicCount())
}

func TestHandshake_InvalidToken_ClosedWith4001(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	conn := h.dial(t, "not-a-valid-token")

	expectCloseCode(t, conn, CloseUnauthorized)
	req.Zero(h.registry.SessionCount())
}

func TestHandshake_ResolverFailure_ClosedWith4001(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Given a resolver that rejects every token
	resolverMock := mocks.NewMockResolver(ctrl)
	resolverMock.EXPECT().
		Resolve(gomock.Any(), gomock.Any()).
		Return(domain.Principal{}, errors.ErrAuthFailure)

	registry := runtime.NewRegistry()
	gw := New(slog.Default(), registry, resolverMock,
		observability.NewMetrics(prometheus.NewRegistry()), SessionConfig{
			OutboundBufferSize: 16,
			HandshakeTimeout:   time.Second,
			WriteTimeout:       time.Second,
			PongTimeout:        10 * time.Second,
			PingInterval:       5 * time.Second,
			MaxFrameSize:       4096,
		})
	server := httptest.NewServer(gw)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=anything"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	defer conn.Close()

	expectCloseCode(t, conn, CloseUnauthorized)
	req.Zero(registry.SessionCount())
}

func TestHandshake_Success_EmitsConnectionStatus(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	token, err := h.tokens.Generate(7, "alice")
	req.NoError(err)
	conn := h.dial(t, token)

	status := readEnvelope(t, conn)
	req.Equal("connection_status", status["type"])
	req.Equal("connected", status["status"])
	req.EqualValues(7, status["user_id"])
	req.Equal("alice", status["username"])

	// The session joined the default broadcast topic and its personal one
	req.Equal(1, h.gateway.ConnectionCount())
	req.Equal(2, h.registry.TopicCount())
}

func TestPing_RepliesWithPongEchoingTimestamp(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	conn := h.connect(t, 7, "alice")

	sendEnvelope(t, conn, `{"type":"ping","timestamp":1712345678901}`)

	pong := readEnvelope(t, conn)
	req.Equal("pong", pong["type"])
	req.EqualValues(1712345678901, pong["timestamp"])
}

func TestTypingFanout_ReachesAllSubscribersIncludingSender(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// Given two authenticated sessions joined to chat_42
	alice := h.connect(t, 7, "alice")
	bob := h.connect(t, 8, "bob")

	sendEnvelope(t, alice, `{"type":"join_conversation","conversation_id":42}`)
	joined := readEnvelope(t, alice)
	req.Equal("conversation_update", joined["type"])
	req.Equal("member_joined", joined["event"])
	req.EqualValues(7, joined["user_id"])

	sendEnvelope(t, bob, `{"type":"join_conversation","conversation_id":42}`)
	req.Equal("member_joined", readEnvelope(t, bob)["event"])
	req.Equal("member_joined", readEnvelope(t, alice)["event"])

	// When alice starts typing
	sendEnvelope(t, alice, `{"type":"typing","conversation_id":42,"is_typing":true}`)

	// Then bob receives the indicator with alice's identity
	indicator := readEnvelope(t, bob)
	req.Equal("typing_indicator", indicator["type"])
	req.EqualValues(42, indicator["conversation_id"])
	req.EqualValues(7, indicator["user_id"])
	req.Equal("alice", indicator["username"])
	req.Equal(true, indicator["is_typing"])

	// And the publisher is included in the delivery: alice receives her
	// own indicator, since registry delivery is topic-based, not
	// sender-exclusive.
	own := readEnvelope(t, alice)
	req.Equal("typing_indicator", own["type"])
	req.EqualValues(7, own["user_id"])
}

func TestReadReceipt_FansOutWithSenderIdentity(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, 7, "alice")
	bob := h.connect(t, 8, "bob")

	sendEnvelope(t, alice, `{"type":"join_conversation","conversation_id":42}`)
	readEnvelope(t, alice)
	sendEnvelope(t, bob, `{"type":"join_conversation","conversation_id":42}`)
	readEnvelope(t, bob)
	readEnvelope(t, alice)

	sendEnvelope(t, bob, `{"type":"read_receipt","conversation_id":42,"message_id":1337}`)

	receipt := readEnvelope(t, alice)
	req.Equal("read_receipt", receipt["type"])
	req.EqualValues(42, receipt["conversation_id"])
	req.Equal("1337", receipt["message_id"])
	req.EqualValues(8, receipt["user_id"])
	req.Equal("bob", receipt["username"])
	req.NotEmpty(receipt["timestamp"])
}

func TestLeaveConversation_ThenNotifyDeliversZero(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, 7, "alice")

	sendEnvelope(t, alice, `{"type":"join_conversation","conversation_id":42}`)
	req.Equal("member_joined", readEnvelope(t, alice)["event"])

	// When alice leaves, she still receives the departure she announced
	sendEnvelope(t, alice, `{"type":"leave_conversation","conversation_id":42}`)
	req.Equal("member_left", readEnvelope(t, alice)["event"])

	// Then the topic is garbage-collected once the unsubscribe lands:
	// only broadcast and alice's personal topic remain
	req.Eventually(func() bool { return h.registry.TopicCount() == 2 },
		time.Second, 10*time.Millisecond)

	// And a later external notify delivers to nobody
	count := h.gateway.Notify(domain.ChatTopic(42), map[string]any{"type": "new_message"})
	req.Zero(count)
}

func TestNotify_DeliversExternalEventToSubscribers(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, 7, "alice")
	sendEnvelope(t, alice, `{"type":"join_conversation","conversation_id":42}`)
	readEnvelope(t, alice)

	// When an external component announces a persisted message
	count := h.gateway.Notify(domain.ChatTopic(42), map[string]any{
		"type":    "new_message",
		"message": map[string]any{"id": 99, "sender_id": 8, "content": "hello"},
	})
	req.Equal(1, count)

	envelope := readEnvelope(t, alice)
	req.Equal("new_message", envelope["type"])
	message := envelope["message"].(map[string]any)
	req.EqualValues(99, message["id"])
	req.Equal("hello", message["content"])
}

func TestNotifyUser_ReachesOnlyThatPrincipal(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, 7, "alice")
	bob := h.connect(t, 8, "bob")

	count := h.gateway.NotifyUser(7, map[string]any{"type": "conversation_update", "event": "invited"})
	req.Equal(1, count)

	envelope := readEnvelope(t, alice)
	req.Equal("conversation_update", envelope["type"])

	// Bob receives nothing
	req.NoError(bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond)))
	_, _, err := bob.ReadMessage()
	req.Error(err)
}

func TestUnknownEnvelopeType_IsIgnoredSilently(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	conn := h.connect(t, 7, "alice")

	// When a client sends a type outside the closed set
	sendEnvelope(t, conn, `{"type":"bogus_type","whatever":true}`)

	// Then no error envelope is produced and the session stays
	// Authenticated: the next ping still gets its pong
	sendEnvelope(t, conn, `{"type":"ping","timestamp":1}`)
	pong := readEnvelope(t, conn)
	req.Equal("pong", pong["type"])
}

func TestMalformedEnvelope_ProducesErrorAndKeepsSessionOpen(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	conn := h.connect(t, 7, "alice")

	// join without a conversation id fails payload validation
	sendEnvelope(t, conn, `{"type":"join_conversation"}`)

	failure := readEnvelope(t, conn)
	req.Equal("error", failure["type"])

	// The connection survives the malformed frame
	sendEnvelope(t, conn, `{"type":"ping","timestamp":2}`)
	req.Equal("pong", readEnvelope(t, conn)["type"])
	req.Equal(1, h.gateway.ConnectionCount())
}

func TestMalformedConversationID_DoesNotMintBogusTopic(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	conn := h.connect(t, 7, "alice")
	before := h.registry.TopicCount()

	sendEnvelope(t, conn, `{"type":"join_conversation","conversation_id":"drop table"}`)

	req.Equal("error", readEnvelope(t, conn)["type"])
	req.Equal(before, h.registry.TopicCount())
}

func TestDisconnect_RemovesEverySubscription(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, 7, "alice")
	bob := h.connect(t, 8, "bob")

	sendEnvelope(t, alice, `{"type":"join_conversation","conversation_id":42}`)
	readEnvelope(t, alice)
	sendEnvelope(t, bob, `{"type":"join_conversation","conversation_id":42}`)
	readEnvelope(t, bob)
	readEnvelope(t, alice)

	// When alice's transport drops
	req.NoError(alice.Close())

	// Then her session disappears from the gateway and the registry
	req.Eventually(func() bool { return h.gateway.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return h.registry.SessionCount() == 1 },
		time.Second, 10*time.Millisecond)

	// Bob learns about the departure
	left := readEnvelope(t, bob)
	req.Equal("conversation_update", left["type"])
	req.Equal("member_left", left["event"])
	req.EqualValues(7, left["user_id"])

	// And a publish to the conversation reaches bob alone, without error
	count := h.gateway.Notify(domain.ChatTopic(42), map[string]any{"type": "new_message"})
	req.Equal(1, count)
}

// gateResolver parks every Resolve call until the test releases it,
// holding the handshake open mid-resolve.
type gateResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (r *gateResolver) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	close(r.entered)
	<-r.release
	return domain.Principal{ID: 7, Username: "alice"}, nil
}

func TestShutdown_DuringHandshake_ClosesTheSession(t *testing.T) {
	req := require.New(t)
	resolver := &gateResolver{entered: make(chan struct{}), release: make(chan struct{})}
	registry := runtime.NewRegistry()

	gw := New(slog.Default(), registry, resolver,
		observability.NewMetrics(prometheus.NewRegistry()), SessionConfig{
			OutboundBufferSize: 16,
			HandshakeTimeout:   5 * time.Second,
			WriteTimeout:       time.Second,
			PongTimeout:        10 * time.Second,
			PingInterval:       5 * time.Second,
			MaxFrameSize:       4096,
		})
	server := httptest.NewServer(gw)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=anything"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	defer conn.Close()

	// When shutdown arrives while the resolver still holds the handshake
	<-resolver.entered
	gw.Shutdown(context.Background())
	close(resolver.release)

	// Then the session was in the shutdown snapshot and force-closed:
	// the late resolver result never subscribes it anywhere
	req.Zero(gw.ConnectionCount())
	req.Zero(registry.SessionCount())

	// And the transport is gone underneath the client
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, readErr := conn.ReadMessage()
	req.Error(readErr)
}

func TestShutdown_ClosesEverySession(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	h.connect(t, 7, "alice")
	h.connect(t, 8, "bob")
	req.Equal(2, h.gateway.ConnectionCount())

	h.gateway.Shutdown(context.Background())

	req.Eventually(func() bool { return h.gateway.ConnectionCount() == 0 },
		time.Second, 10*time.Millisecond)
	req.Zero(h.registry.SessionCount())
}
