package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-gateway/contract"
	"chat-gateway/domain"
	"chat-gateway/errors"
	"chat-gateway/observability"
	"chat-gateway/protocol"
)

// State is the session lifecycle: Connecting -> Authenticated -> Closed.
// Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

// CloseUnauthorized is sent when the handshake carries no token or an
// invalid one. Normal transport close codes apply otherwise.
const CloseUnauthorized = 4001

// Session is the server-side state for one live connection: the
// connection handle, the resolved principal, the lifecycle state and the
// set of conversations joined. The registry only ever sees the session
// through its EventSink side; all cross-session delivery goes through
// Registry.Publish, never by writing to another session directly.
type Session struct {
	id        string
	conn      *websocket.Conn
	registry  contract.Registry
	metrics   *observability.Metrics
	log       *slog.Logger
	cfg       SessionConfig
	principal domain.Principal
	forget    func(sessionID string)

	mu            sync.Mutex
	state         State
	conversations map[int64]struct{}

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// SessionConfig bounds a session's I/O. Values come from the gateway's
// environment, not from the client.
type SessionConfig struct {
	OutboundBufferSize int
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	PongTimeout        time.Duration
	PingInterval       time.Duration
	MaxFrameSize       int64
}

func newSession(id string, conn *websocket.Conn, registry contract.Registry,
	metrics *observability.Metrics, log *slog.Logger, cfg SessionConfig,
	forget func(sessionID string)) *Session {
	return &Session{
		id:            id,
		conn:          conn,
		registry:      registry,
		metrics:       metrics,
		log:           log.With("session_id", id),
		cfg:           cfg,
		forget:        forget,
		state:         StateConnecting,
		conversations: make(map[int64]struct{}),
		outbound:      make(chan []byte, cfg.OutboundBufferSize),
		done:          make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Principal returns the identity resolved at handshake. Zero until the
// session reaches Authenticated.
func (s *Session) Principal() domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// authenticate runs the gating step of the handshake: no subscription
// exists until the resolver has accepted the token, so no publish can
// race a not-yet-authenticated session. The resolver call is bounded by
// the handshake timeout so a stalled verifier cannot hang the accept path.
func (s *Session) authenticate(ctx context.Context, resolver contract.Resolver, token string) error {
	if token == "" {
		s.metrics.AuthFailures.Inc()
		s.rejectUnauthorized("missing token")
		return errors.ErrAuthFailure
	}

	resolveCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	principal, err := resolver.Resolve(resolveCtx, token)
	if err != nil {
		s.metrics.AuthFailures.Inc()
		s.rejectUnauthorized("invalid token")
		return errors.ErrAuthFailure
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return errors.ErrSessionClosed
	}
	s.principal = principal
	s.state = StateAuthenticated
	s.mu.Unlock()

	// Default subscriptions: the well-known broadcast topic plus the
	// principal's personal notification topic.
	s.registry.Subscribe(domain.TopicBroadcast, s.id, s)
	s.registry.Subscribe(domain.UserNotificationTopic(principal.ID), s.id, s)

	s.send(protocol.NewConnectionStatus(principal, time.Now()))
	s.log.Info("Session authenticated", "user_id", principal.ID, "username", principal.Username)
	return nil
}

// rejectUnauthorized closes a never-authenticated connection with 4001.
// The session was never subscribed anywhere, so teardown is a no-op on
// the registry side.
func (s *Session) rejectUnauthorized(reason string) {
	s.log.Info("Handshake rejected", "reason", reason)
	message := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, message, deadline)
	s.teardown(context.Background())
}

// run owns the inbound side of the connection until it drops. The write
// pump runs in its own goroutine and is the only writer of the
// underlying connection.
func (s *Session) run(ctx context.Context) {
	go s.writePump()
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer s.teardown(ctx)

	s.conn.SetReadLimit(s.cfg.MaxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Connection dropped", "error", err)
			}
			return
		}
		s.dispatch(ctx, data)
	}
}

// dispatch decodes one inbound frame and routes it by type tag.
// Malformed frames produce an error envelope back to the client and the
// session stays open; unknown tags are a forward-compatible no-op.
func (s *Session) dispatch(ctx context.Context, data []byte) {
	inbound, err := protocol.DecodeInbound(data)
	if err != nil {
		s.metrics.Envelopes.WithLabelValues("malformed").Inc()
		s.log.Debug("Malformed envelope", "error", err)
		s.send(protocol.NewErrorEnvelope("malformed envelope"))
		return
	}

	switch evt := inbound.(type) {
	case protocol.Ping:
		s.metrics.Envelopes.WithLabelValues(protocol.TypePing).Inc()
		s.send(protocol.NewPong(evt.Timestamp))

	case protocol.JoinConversation:
		s.metrics.Envelopes.WithLabelValues(protocol.TypeJoinConversation).Inc()
		s.joinConversation(ctx, evt.ConversationID)

	case protocol.LeaveConversation:
		s.metrics.Envelopes.WithLabelValues(protocol.TypeLeaveConversation).Inc()
		s.leaveConversation(ctx, evt.ConversationID)

	case protocol.Typing:
		s.metrics.Envelopes.WithLabelValues(protocol.TypeTyping).Inc()
		s.publish(ctx, domain.ChatTopic(evt.ConversationID),
			protocol.NewTypingIndicator(evt.ConversationID, s.Principal(), evt.IsTyping))

	case protocol.ReadReceipt:
		s.metrics.Envelopes.WithLabelValues(protocol.TypeReadReceipt).Inc()
		s.publish(ctx, domain.ChatTopic(evt.ConversationID),
			protocol.NewReadReceiptEvent(evt.ConversationID, evt.MessageID, s.Principal(), time.Now()))

	case protocol.ClientMessage:
		// Deliberate no-op: messages are authored through the external
		// publish path and re-enter the fanout via Gateway.Notify.
		s.metrics.Envelopes.WithLabelValues(protocol.TypeNewMessage).Inc()

	case protocol.Unknown:
		s.metrics.Envelopes.WithLabelValues("unknown").Inc()
		s.log.Debug("Ignoring unknown envelope type", "type", evt.Type)
	}
}

func (s *Session) joinConversation(ctx context.Context, conversationID int64) {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	s.conversations[conversationID] = struct{}{}
	s.mu.Unlock()

	topic := domain.ChatTopic(conversationID)
	s.registry.Subscribe(topic, s.id, s)

	// Teardown may have slipped in between the state check and the
	// subscribe. Closed is terminal: undo, so the dead session cannot
	// linger in the registry past its own unsubscribe_all.
	if s.State() == StateClosed {
		s.registry.UnsubscribeAll(s.id)
		return
	}

	s.publish(ctx, topic,
		protocol.NewConversationUpdate(conversationID, protocol.MemberJoined, s.Principal(), time.Now()))
}

func (s *Session) leaveConversation(ctx context.Context, conversationID int64) {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	delete(s.conversations, conversationID)
	s.mu.Unlock()

	// Announce while still subscribed, then leave, so remaining members
	// learn about the departure through the same fanout path.
	s.publish(ctx, domain.ChatTopic(conversationID),
		protocol.NewConversationUpdate(conversationID, protocol.MemberLeft, s.Principal(), time.Now()))
	s.registry.Unsubscribe(domain.ChatTopic(conversationID), s.id)
}

// publish encodes the envelope once and fans the frame out through the
// registry. Delivery is topic-based, not sender-exclusive: the publisher
// receives its own event when it subscribes to the topic.
func (s *Session) publish(ctx context.Context, topic domain.Topic, envelope any) {
	frame, err := protocol.Encode(envelope)
	if err != nil {
		s.log.Error("Failed to encode envelope", "error", err)
		return
	}
	s.registry.Publish(ctx, topic, frame)
}

// send encodes an envelope onto the session's own outbound path.
func (s *Session) send(envelope any) {
	frame, err := protocol.Encode(envelope)
	if err != nil {
		s.log.Error("Failed to encode envelope", "error", err)
		return
	}
	_ = s.Consume(context.Background(), frame)
}

// Consume implements contract.EventSink. It never blocks: when the
// outbound queue is full or the session is closed the frame is shed and
// the publish proceeds to the next recipient, because one slow consumer
// must never stall fanout to all others. Sheds surface only as counters.
func (s *Session) Consume(ctx context.Context, frame []byte) error {
	if s.State() == StateClosed {
		s.metrics.FramesShed.Inc()
		return errors.ErrSessionClosed
	}
	select {
	case s.outbound <- frame:
		s.metrics.FramesDelivered.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.metrics.FramesShed.Inc()
		s.log.Debug("Outbound queue full, shedding frame")
		return errors.ErrOutboundFull
	}
}

// writePump is the single writer of the connection. It drains the
// outbound queue and keeps the connection alive with periodic pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("Write failed, closing connection", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		}
	}
}

// Close forces the session into Closed, used by gateway shutdown.
func (s *Session) Close(ctx context.Context) {
	s.teardown(ctx)
}

// teardown transitions the session to Closed exactly once. It leaves
// each joined conversation before announcing the departure there, so the
// dying session never sheds its own announcement, then removes the
// remaining subscriptions atomically so no in-flight publish can retain
// a dangling reference. Safe for a session that never authenticated.
func (s *Session) teardown(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasAuthenticated := s.state == StateAuthenticated
		s.state = StateClosed
		principal := s.principal
		joined := make([]int64, 0, len(s.conversations))
		for conversationID := range s.conversations {
			joined = append(joined, conversationID)
		}
		s.mu.Unlock()

		if wasAuthenticated {
			for _, conversationID := range joined {
				topic := domain.ChatTopic(conversationID)
				s.registry.Unsubscribe(topic, s.id)
				frame, err := protocol.Encode(protocol.NewConversationUpdate(
					conversationID, protocol.MemberLeft, principal, time.Now()))
				if err != nil {
					continue
				}
				s.registry.Publish(ctx, topic, frame)
			}
		}

		s.registry.UnsubscribeAll(s.id)
		s.forget(s.id)
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.log.Debug("Session closed", "was_authenticated", wasAuthenticated)
	})
}

// String identifies the session in logs.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (user %d)", s.id, s.Principal().ID)
}
