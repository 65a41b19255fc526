package domain

import (
	"fmt"
	"strconv"

	"chat-gateway/errors"
)

// Topic is a named fanout channel. A topic exists the moment a session
// subscribes to it and disappears when its subscriber set becomes empty.
type Topic string

// TopicBroadcast is the well-known default topic every authenticated
// session joins at handshake completion.
const TopicBroadcast Topic = "broadcast"

// ChatTopic builds the fanout topic for a conversation.
func ChatTopic(conversationID int64) Topic {
	return Topic(fmt.Sprintf("chat_%d", conversationID))
}

// UserNotificationTopic builds the personal topic a session joins so that
// out-of-band publishers can reach a single principal.
func UserNotificationTopic(userID int64) Topic {
	return Topic(fmt.Sprintf("user_%d_notifications", userID))
}

// ParseConversationID validates a raw conversation identifier at the
// protocol boundary. Malformed identifiers must fail envelope decoding
// instead of silently minting a bogus topic.
func ParseConversationID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid conversation id %q", errors.ErrMalformedEnvelope, raw)
	}
	return id, nil
}
