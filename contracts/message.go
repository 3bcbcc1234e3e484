package contracts

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is an inbound message received from the transport.
// It is immutable once validated; MessageID is its identity and is
// used for self-echo de-duplication.
type ChatMessage struct {
	MessageID      string    `json:"messageId"`
	Channel        Channel   `json:"channel"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	RoomID         string    `json:"roomId,omitempty"`
	PartyID        string    `json:"partyId,omitempty"`
	TargetPlayerID string    `json:"targetPlayerId,omitempty"`

	// EchoSent marks a message whose sender already rendered it locally,
	// suppressing the self-echo on delivery.
	EchoSent bool `json:"echoSent,omitempty"`
}

// NewChatMessage creates a chat message with a generated ID and current timestamp.
func NewChatMessage(channel Channel, senderID, senderName, content string) *ChatMessage {
	return &ChatMessage{
		MessageID:  uuid.New().String(),
		Channel:    channel,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
}

// ChatEvent is the outbound event delivered to connected clients.
type ChatEvent struct {
	Type       string    `json:"type"`
	MessageID  string    `json:"messageId"`
	Channel    Channel   `json:"channel"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	RoomID     string    `json:"roomId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event builds the outbound event for a validated chat message.
func (m *ChatMessage) Event() *ChatEvent {
	return &ChatEvent{
		Type:       "chat",
		MessageID:  m.MessageID,
		Channel:    m.Channel,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		RoomID:     m.RoomID,
		Timestamp:  m.Timestamp,
	}
}
