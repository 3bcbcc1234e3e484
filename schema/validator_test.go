package schema

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudtide/chatrelay/contracts"
)

func chatPayload(overrides map[string]string) []byte {
	fields := map[string]string{
		"messageId":  "msg-1",
		"channel":    "say",
		"senderId":   "player-1",
		"senderName": "Aria",
		"content":    "hello there",
		"timestamp":  "2026-08-30T12:00:00Z",
		"roomId":     "ember:forge:anvil",
	}
	for k, v := range overrides {
		if v == "" {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}

	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%q:%q", k, v))
	}
	return []byte("{" + strings.Join(parts, ",") + "}")
}

func TestValidateChatMessage(t *testing.T) {
	t.Run("accepts a well-formed chat message", func(t *testing.T) {
		msg, err := ValidateChatMessage(chatPayload(nil), contracts.KindChat)

		require.NoError(t, err)
		assert.Equal(t, "msg-1", msg.MessageID)
		assert.Equal(t, contracts.ChannelSay, msg.Channel)
		assert.Equal(t, "player-1", msg.SenderID)
		assert.Equal(t, "Aria", msg.SenderName)
		assert.Equal(t, "hello there", msg.Content)
		assert.Equal(t, "ember:forge:anvil", msg.RoomID)
		assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), msg.Timestamp)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := ValidateChatMessage([]byte("{not json"), contracts.KindChat)

		var vErr *contracts.ValidationError
		require.ErrorAs(t, err, &vErr)
	})

	t.Run("required fields", func(t *testing.T) {
		tests := []struct {
			name  string
			field string
		}{
			{"missing messageId", "messageId"},
			{"missing senderId", "senderId"},
			{"missing channel", "channel"},
			{"missing timestamp", "timestamp"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ValidateChatMessage(chatPayload(map[string]string{tt.field: ""}), contracts.KindChat)

				var vErr *contracts.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.field, vErr.Field)
			})
		}
	})

	t.Run("rejects unknown channel", func(t *testing.T) {
		_, err := ValidateChatMessage(chatPayload(map[string]string{"channel": "shout"}), contracts.KindChat)

		var vErr *contracts.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "channel", vErr.Field)
		assert.Contains(t, vErr.Message, "shout")
	})

	t.Run("chat kind requires sender name and content", func(t *testing.T) {
		_, err := ValidateChatMessage(chatPayload(map[string]string{"senderName": ""}), contracts.KindChat)
		var vErr *contracts.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "senderName", vErr.Field)

		_, err = ValidateChatMessage(chatPayload(map[string]string{"content": ""}), contracts.KindChat)
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "content", vErr.Field)
	})

	t.Run("event kind requires a room but tolerates empty content", func(t *testing.T) {
		msg, err := ValidateChatMessage(
			chatPayload(map[string]string{"content": "", "senderName": ""}),
			contracts.KindEvent)

		require.NoError(t, err)
		assert.Empty(t, msg.Content)

		_, err = ValidateChatMessage(
			chatPayload(map[string]string{"roomId": ""}),
			contracts.KindEvent)
		var vErr *contracts.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "roomId", vErr.Field)
	})

	t.Run("rejects oversized content", func(t *testing.T) {
		long := strings.Repeat("a", MaxContentLength+1)
		_, err := ValidateChatMessage(chatPayload(map[string]string{"content": long}), contracts.KindChat)

		var vErr *contracts.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "content", vErr.Field)
	})

	t.Run("content at the limit is accepted", func(t *testing.T) {
		exact := strings.Repeat("a", MaxContentLength)
		_, err := ValidateChatMessage(chatPayload(map[string]string{"content": exact}), contracts.KindChat)

		assert.NoError(t, err)
	})

	t.Run("rejects non-RFC3339 timestamp", func(t *testing.T) {
		_, err := ValidateChatMessage(
			chatPayload(map[string]string{"timestamp": "yesterday"}), contracts.KindChat)

		var vErr *contracts.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "timestamp", vErr.Field)
	})

	t.Run("timestamps normalize to UTC", func(t *testing.T) {
		msg, err := ValidateChatMessage(
			chatPayload(map[string]string{"timestamp": "2026-08-30T14:00:00+02:00"}), contracts.KindChat)

		require.NoError(t, err)
		assert.Equal(t, time.UTC, msg.Timestamp.Location())
		assert.Equal(t, 12, msg.Timestamp.Hour())
	})

	t.Run("validation failures are not retryable", func(t *testing.T) {
		_, err := ValidateChatMessage([]byte(`{}`), contracts.KindChat)

		require.Error(t, err)
		vErr, ok := err.(*contracts.ValidationError)
		require.True(t, ok)
		assert.False(t, vErr.IsRetryable())
	})
}
