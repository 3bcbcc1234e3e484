package connections

import (
	"context"

	"github.com/mudtide/chatrelay/contracts"
)

// Registry tracks which destinations are reachable and performs the actual
// point-to-point or broadcast sends. The routing layer consumes this
// interface; Gateway is the in-process websocket implementation.
type Registry interface {
	// SendToOne delivers an event to a single destination.
	SendToOne(ctx context.Context, playerID string, event *contracts.ChatEvent) error

	// SendToAll delivers an event to every connected destination except
	// excludeID.
	SendToAll(ctx context.Context, event *contracts.ChatEvent, excludeID string) error

	// RoomMembersOf returns the players subscribed to a room's events.
	// Subscriptions can lag actual movement; use LocationOf for the
	// authoritative position.
	RoomMembersOf(roomID string) []string

	// LocationOf returns the room a player currently occupies.
	LocationOf(playerID string) (string, bool)

	// CanonicalRoomID resolves a possibly aliased room identifier to its
	// canonical form.
	CanonicalRoomID(roomID string) string

	// IsAdmin reports whether the player holds administrative privileges.
	IsAdmin(playerID string) bool
}

// MuteInfo is the batch-preloaded mute state for one sender against a set of
// candidate receivers.
type MuteInfo struct {
	// Personal holds the receivers that have personally muted the sender.
	Personal map[string]bool
	// Global reports whether any player has globally muted the sender.
	Global bool
}

// PersonallyMuted reports whether receiverID has muted the sender.
func (m MuteInfo) PersonallyMuted(receiverID string) bool {
	return m.Personal[receiverID]
}

// MuteProvider preloads mute relationships for a broadcast in one batched
// lookup. One call per broadcast, never one call per receiver.
type MuteProvider interface {
	PreloadMutes(ctx context.Context, senderID string, receiverIDs []string) (MuteInfo, error)
}

// NoMutes is a MuteProvider that reports no mute relationships.
type NoMutes struct{}

// PreloadMutes implements MuteProvider.
func (NoMutes) PreloadMutes(ctx context.Context, senderID string, receiverIDs []string) (MuteInfo, error) {
	return MuteInfo{Personal: map[string]bool{}}, nil
}
