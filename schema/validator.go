package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mudtide/chatrelay/contracts"
)

// MaxContentLength bounds the content field of any accepted message.
const MaxContentLength = 4096

// rawMessage mirrors the wire shape before validation. Channel and
// timestamp stay strings here so malformed values produce descriptive
// validation errors instead of silent zero values.
type rawMessage struct {
	MessageID      string `json:"messageId"`
	Channel        string `json:"channel"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	RoomID         string `json:"roomId"`
	PartyID        string `json:"partyId"`
	TargetPlayerID string `json:"targetPlayerId"`
	EchoSent       bool   `json:"echoSent"`
}

// ValidateChatMessage validates a raw payload of the given kind and returns
// the typed message. Every failure is a *contracts.ValidationError.
func ValidateChatMessage(payload []byte, kind contracts.MessageKind) (*contracts.ChatMessage, error) {
	var raw rawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, contracts.NewValidationError("", fmt.Sprintf("malformed JSON payload: %v", err))
	}

	if raw.MessageID == "" {
		return nil, contracts.NewValidationError("messageId", "required")
	}
	if raw.SenderID == "" {
		return nil, contracts.NewValidationError("senderId", "required")
	}
	if raw.Channel == "" {
		return nil, contracts.NewValidationError("channel", "required")
	}
	if !contracts.KnownChannel(raw.Channel) {
		return nil, contracts.NewValidationError("channel", fmt.Sprintf("unknown channel %q", raw.Channel))
	}

	switch kind {
	case contracts.KindChat:
		if raw.SenderName == "" {
			return nil, contracts.NewValidationError("senderName", "required for chat messages")
		}
		if raw.Content == "" {
			return nil, contracts.NewValidationError("content", "must not be empty")
		}
	case contracts.KindEvent:
		// Events carry narration produced server-side; content may be empty
		// but the room must be known so the event can be scoped.
		if raw.RoomID == "" {
			return nil, contracts.NewValidationError("roomId", "required for event messages")
		}
	default:
		return nil, contracts.NewValidationError("kind", fmt.Sprintf("unknown message kind %q", kind))
	}

	if len(raw.Content) > MaxContentLength {
		return nil, contracts.NewValidationError("content",
			fmt.Sprintf("exceeds maximum length of %d", MaxContentLength))
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}

	return &contracts.ChatMessage{
		MessageID:      raw.MessageID,
		Channel:        contracts.ParseChannel(raw.Channel),
		SenderID:       raw.SenderID,
		SenderName:     raw.SenderName,
		Content:        raw.Content,
		Timestamp:      ts,
		RoomID:         raw.RoomID,
		PartyID:        raw.PartyID,
		TargetPlayerID: raw.TargetPlayerID,
		EchoSent:       raw.EchoSent,
	}, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, contracts.NewValidationError("timestamp", "required")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, contracts.NewValidationError("timestamp",
			fmt.Sprintf("not a valid RFC3339 timestamp: %v", err))
	}
	return ts.UTC(), nil
}
