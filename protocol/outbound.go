package protocol

import (
	"encoding/json"
	"time"

	"chat-gateway/domain"
)

// ConnectionStatus confirms a completed handshake to the client.
type ConnectionStatus struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

func NewConnectionStatus(p domain.Principal, at time.Time) ConnectionStatus {
	return ConnectionStatus{
		Type:      TypeConnectionStatus,
		Status:    "connected",
		UserID:    p.ID,
		Username:  p.Username,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Pong echoes the timestamp of the ping that triggered it.
type Pong struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func NewPong(timestamp json.RawMessage) Pong {
	return Pong{Type: TypePong, Timestamp: timestamp}
}

// TypingIndicator tells subscribers that a participant started or
// stopped typing in a conversation.
type TypingIndicator struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	IsTyping       bool   `json:"is_typing"`
}

func NewTypingIndicator(conversationID int64, sender domain.Principal, isTyping bool) TypingIndicator {
	return TypingIndicator{
		Type:           TypeTypingIndicator,
		ConversationID: conversationID,
		UserID:         sender.ID,
		Username:       sender.Username,
		IsTyping:       isTyping,
	}
}

// ReadReceiptEvent tells subscribers that a participant read a message.
type ReadReceiptEvent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	Timestamp      string `json:"timestamp"`
}

func NewReadReceiptEvent(conversationID int64, messageID string, sender domain.Principal, at time.Time) ReadReceiptEvent {
	return ReadReceiptEvent{
		Type:           TypeReadReceipt,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         sender.ID,
		Username:       sender.Username,
		Timestamp:      at.UTC().Format(time.RFC3339),
	}
}

// NewMessageEvent carries a message authored outside the realtime layer,
// injected through the gateway's notify path.
type NewMessageEvent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

func NewNewMessageEvent(message json.RawMessage) NewMessageEvent {
	return NewMessageEvent{Type: TypeNewMessage, Message: message}
}

// Membership events carried by conversation_update envelopes.
const (
	MemberJoined = "member_joined"
	MemberLeft   = "member_left"
)

// ConversationUpdate tells subscribers about a membership change.
type ConversationUpdate struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	Event          string `json:"event"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	Timestamp      string `json:"timestamp"`
}

func NewConversationUpdate(conversationID int64, event string, p domain.Principal, at time.Time) ConversationUpdate {
	return ConversationUpdate{
		Type:           TypeConversationUpdate,
		ConversationID: conversationID,
		Event:          event,
		UserID:         p.ID,
		Username:       p.Username,
		Timestamp:      at.UTC().Format(time.RFC3339),
	}
}

// ErrorEnvelope reports a recoverable protocol failure to the client
// that caused it. The connection stays open.
type ErrorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorEnvelope(message string) ErrorEnvelope {
	return ErrorEnvelope{Type: TypeError, Message: message}
}

// Encode serializes one outbound envelope to a wire frame. Envelopes are
// encoded once per publish and the same frame is fanned out to every
// recipient.
func Encode(envelope any) ([]byte, error) {
	return json.Marshal(envelope)
}
