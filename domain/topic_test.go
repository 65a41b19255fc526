package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chat-gateway/errors"
)

func TestChatTopic_Naming(t *testing.T) {
	req := require.New(t)

	req.Equal(Topic("chat_42"), ChatTopic(42))
	req.Equal(Topic("user_7_notifications"), UserNotificationTopic(7))
}

func TestParseConversationID(t *testing.T) {
	req := require.New(t)
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{"Valid id", "42", 42, false},
		{"Large id", "9007199254740993", 9007199254740993, false},
		{"Zero is invalid", "0", 0, true},
		{"Negative is invalid", "-3", 0, true},
		{"Non numeric", "general", 0, true},
		{"Empty", "", 0, true},
		{"Injection attempt", "42_admin", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseConversationID(tt.raw)
			if tt.wantErr {
				req.ErrorIs(err, errors.ErrMalformedEnvelope)
			} else {
				req.NoError(err)
				req.Equal(tt.want, id)
			}
		})
	}
}
