// Package gateway accepts websocket connections, gates them behind the
// principal resolver, and routes events between sessions and the topic
// registry.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"chat-gateway/contract"
	"chat-gateway/domain"
	"chat-gateway/observability"
	"chat-gateway/protocol"
)

// Gateway owns the table of live sessions. The registry holds only
// non-owning references (subscription entries); sessions are created on
// accept and discarded on disconnect or forced close.
type Gateway struct {
	log      *slog.Logger
	registry contract.Registry
	resolver contract.Resolver
	metrics  *observability.Metrics
	cfg      SessionConfig
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(log *slog.Logger, registry contract.Registry, resolver contract.Resolver,
	metrics *observability.Metrics, cfg SessionConfig) *Gateway {
	return &Gateway{
		log:      log,
		registry: registry,
		resolver: resolver,
		metrics:  metrics,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			// Origin policy is enforced upstream; the gateway itself is
			// deployed behind the platform's reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP upgrades the connection and runs the session lifecycle:
// handshake first, steady state until the transport drops. The bearer
// token travels in the `token` query parameter, the out-of-band field
// available before any frame is exchanged.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("Upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	session := newSession(uuid.NewString(), conn, g.registry, g.metrics, g.log, g.cfg, g.forget)

	// In the table before the handshake runs, so a concurrent Shutdown
	// snapshot sees the session and can force-close it mid-resolve.
	g.mu.Lock()
	g.sessions[session.id] = session
	g.mu.Unlock()

	if err := session.authenticate(r.Context(), g.resolver, token); err != nil {
		g.forget(session.id)
		return
	}

	session.run(context.Background())
}

func (g *Gateway) forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}

// Notify injects an event from outside the realtime layer into the
// fanout, e.g. "a message was persisted, tell subscribers".
// Fire-and-forget: the return value is the recipient count and delivery
// follows Registry.Publish semantics.
func (g *Gateway) Notify(topic domain.Topic, envelope any) int {
	frame, err := protocol.Encode(envelope)
	if err != nil {
		g.log.Error("Failed to encode notify envelope", "topic", topic, "error", err)
		return 0
	}
	return g.registry.Publish(context.Background(), topic, frame)
}

// NotifyUser targets a single principal through their personal
// notification topic.
func (g *Gateway) NotifyUser(userID int64, envelope any) int {
	return g.Notify(domain.UserNotificationTopic(userID), envelope)
}

// ConnectionCount reports the number of live sessions.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Shutdown force-closes every live session. Safe to call concurrently
// with connects and disconnects.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.RLock()
	sessions := lo.Values(g.sessions)
	g.mu.RUnlock()

	for _, session := range sessions {
		session.Close(ctx)
	}
	g.log.Info("Gateway shut down", "sessions_closed", len(sessions))
}
