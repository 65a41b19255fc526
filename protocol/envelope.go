// Package protocol implements the wire envelope codec: a JSON object
// discriminated by a "type" tag, decoded into a closed set of inbound
// values and encoded from a closed set of outbound values.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"chat-gateway/domain"
	"chat-gateway/errors"
)

// Inbound type tags accepted from clients.
const (
	TypePing              = "ping"
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeTyping            = "typing"
	TypeReadReceipt       = "read_receipt"
	TypeNewMessage        = "new_message"
)

// Outbound type tags pushed to clients.
const (
	TypeConnectionStatus   = "connection_status"
	TypePong               = "pong"
	TypeTypingIndicator    = "typing_indicator"
	TypeConversationUpdate = "conversation_update"
	TypeError              = "error"
)

var validate = validator.New()

// Inbound is the closed set of client events. Dispatch is an exhaustive
// switch over the concrete types below; Unknown covers every tag outside
// the set and is ignored by the session, never treated as an error.
type Inbound interface {
	inbound()
}

type Ping struct {
	// Timestamp is echoed back verbatim in the pong reply.
	Timestamp json.RawMessage
}

type JoinConversation struct {
	ConversationID int64
}

type LeaveConversation struct {
	ConversationID int64
}

type Typing struct {
	ConversationID int64
	IsTyping       bool
}

type ReadReceipt struct {
	ConversationID int64
	MessageID      string
}

// ClientMessage is a successfully decoded new_message client event.
// New messages are expected to arrive through the external publish path,
// not the realtime inbound channel, so the session treats this as a no-op.
type ClientMessage struct{}

type Unknown struct {
	Type string
}

func (Ping) inbound()              {}
func (JoinConversation) inbound()  {}
func (LeaveConversation) inbound() {}
func (Typing) inbound()            {}
func (ReadReceipt) inbound()       {}
func (ClientMessage) inbound()     {}
func (Unknown) inbound()           {}

type pingWire struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// scalarID accepts an identifier sent either as a JSON number or as a
// JSON string, which older clients still do. Range and sign checks
// happen in domain.ParseConversationID.
type scalarID string

func (s *scalarID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = scalarID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = scalarID(num)
	return nil
}

type conversationWire struct {
	ConversationID scalarID `json:"conversation_id" validate:"required"`
}

type typingWire struct {
	ConversationID scalarID `json:"conversation_id" validate:"required"`
	// The original client omits the flag when typing starts.
	IsTyping *bool `json:"is_typing"`
}

type readReceiptWire struct {
	ConversationID scalarID `json:"conversation_id" validate:"required"`
	MessageID      scalarID `json:"message_id" validate:"required"`
}

// DecodeInbound parses one client frame. It returns Unknown for tags
// outside the closed set and errors.ErrMalformedEnvelope when the frame
// is not valid JSON or its payload fails validation.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing type tag", errors.ErrMalformedEnvelope)
	}

	switch head.Type {
	case TypePing:
		var p pingWire
		if err := unmarshalPayload(data, &p); err != nil {
			return nil, err
		}
		return Ping{Timestamp: p.Timestamp}, nil

	case TypeJoinConversation:
		var p conversationWire
		if err := unmarshalPayload(data, &p); err != nil {
			return nil, err
		}
		id, err := domain.ParseConversationID(string(p.ConversationID))
		if err != nil {
			return nil, err
		}
		return JoinConversation{ConversationID: id}, nil

	case TypeLeaveConversation:
		var p conversationWire
		if err := unmarshalPayload(data, &p); err != nil {
			return nil, err
		}
		id, err := domain.ParseConversationID(string(p.ConversationID))
		if err != nil {
			return nil, err
		}
		return LeaveConversation{ConversationID: id}, nil

	case TypeTyping:
		var p typingWire
		if err := unmarshalPayload(data, &p); err != nil {
			return nil, err
		}
		id, err := domain.ParseConversationID(string(p.ConversationID))
		if err != nil {
			return nil, err
		}
		isTyping := true
		if p.IsTyping != nil {
			isTyping = *p.IsTyping
		}
		return Typing{ConversationID: id, IsTyping: isTyping}, nil

	case TypeReadReceipt:
		var p readReceiptWire
		if err := unmarshalPayload(data, &p); err != nil {
			return nil, err
		}
		id, err := domain.ParseConversationID(string(p.ConversationID))
		if err != nil {
			return nil, err
		}
		return ReadReceipt{ConversationID: id, MessageID: string(p.MessageID)}, nil

	case TypeNewMessage:
		return ClientMessage{}, nil

	default:
		return Unknown{Type: head.Type}, nil
	}
}

func unmarshalPayload(data []byte, payload any) error {
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
	}
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
	}
	return nil
}
