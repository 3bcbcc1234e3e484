package routing

import (
	"context"
	"log/slog"

	"github.com/mudtide/chatrelay/connections"
	"github.com/mudtide/chatrelay/contracts"
)

// RoomBroadcaster applies room-membership and mute filtering before final
// delivery, including self-echo handling for first-person channels.
type RoomBroadcaster struct {
	conns  connections.Registry
	mutes  connections.MuteProvider
	echo   *EchoSuppressor
	logger *slog.Logger
}

// RoomBroadcasterOption configures the broadcaster
type RoomBroadcasterOption func(*RoomBroadcaster)

// WithBroadcasterLogger sets the logger
func WithBroadcasterLogger(logger *slog.Logger) RoomBroadcasterOption {
	return func(b *RoomBroadcaster) {
		b.logger = logger
	}
}

// WithMuteProvider sets the mute relationship provider
func WithMuteProvider(mutes connections.MuteProvider) RoomBroadcasterOption {
	return func(b *RoomBroadcaster) {
		b.mutes = mutes
	}
}

// NewRoomBroadcaster creates a broadcaster over the given connection registry.
func NewRoomBroadcaster(conns connections.Registry, echo *EchoSuppressor, options ...RoomBroadcasterOption) *RoomBroadcaster {
	b := &RoomBroadcaster{
		conns:  conns,
		mutes:  connections.NoMutes{},
		echo:   echo,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(b)
	}

	return b
}

// BroadcastToRoom delivers a message to every eligible subscriber of a room.
// Candidates come from the union of the raw and canonical room ids, which
// covers id-aliasing transition periods. A failure against any single
// recipient is logged and does not abort delivery to the rest.
func (b *RoomBroadcaster) BroadcastToRoom(ctx context.Context, roomID string, msg *contracts.ChatMessage) {
	canonical := b.canonicalRoomID(roomID)
	candidates := b.candidateReceivers(roomID, canonical, msg.SenderID)

	mutes, err := b.mutes.PreloadMutes(ctx, msg.SenderID, candidates)
	if err != nil {
		// Fail open: an unavailable mute service should not silence a room.
		b.logger.Error("mute preload failed, delivering unfiltered",
			"roomId", roomID, "senderId", msg.SenderID, "error", err)
		mutes = connections.MuteInfo{Personal: map[string]bool{}}
	}

	event := msg.Event()
	delivered := 0

	for _, receiverID := range candidates {
		if !b.receiverInRoom(receiverID, roomID, canonical) {
			continue
		}
		if msg.Channel.MuteSensitive() {
			if mutes.PersonallyMuted(receiverID) {
				continue
			}
			// Administrators always see globally-muted senders.
			if mutes.Global && !b.conns.IsAdmin(receiverID) {
				continue
			}
		}

		if err := b.conns.SendToOne(ctx, receiverID, event); err != nil {
			b.logger.Warn("room delivery failed for receiver",
				"roomId", roomID, "receiverId", receiverID,
				"messageId", msg.MessageID, "error", err)
			continue
		}
		delivered++
	}

	b.deliverSelfEcho(ctx, msg, event)

	b.logger.Debug("room broadcast complete",
		"roomId", roomID, "channel", msg.Channel.String(),
		"candidates", len(candidates), "delivered", delivered)
}

// deliverSelfEcho re-delivers the event to the sender on self-visible
// channels, unless the message carries the echoSent marker or a suppression
// token exists for its id. The token is consumed either way.
func (b *RoomBroadcaster) deliverSelfEcho(ctx context.Context, msg *contracts.ChatMessage, event *contracts.ChatEvent) {
	if !msg.Channel.EchoesToSender() {
		return
	}
	suppressed := b.echo != nil && b.echo.Consume(msg.MessageID)
	if msg.EchoSent || suppressed {
		return
	}

	if err := b.conns.SendToOne(ctx, msg.SenderID, event); err != nil {
		b.logger.Warn("self-echo delivery failed",
			"senderId", msg.SenderID, "messageId", msg.MessageID, "error", err)
	}
}

// candidateReceivers unions the subscriber sets for the raw and canonical
// room ids, excluding the sender.
func (b *RoomBroadcaster) candidateReceivers(roomID, canonical, senderID string) []string {
	seen := make(map[string]bool)
	var candidates []string

	add := func(ids []string) {
		for _, id := range ids {
			if id == senderID || seen[id] {
				continue
			}
			seen[id] = true
			candidates = append(candidates, id)
		}
	}

	add(b.conns.RoomMembersOf(roomID))
	if canonical != roomID {
		add(b.conns.RoomMembersOf(canonical))
	}

	return candidates
}

// receiverInRoom checks the authoritative location, not just subscription
// membership; subscriptions can be stale.
func (b *RoomBroadcaster) receiverInRoom(receiverID, roomID, canonical string) bool {
	location, ok := b.conns.LocationOf(receiverID)
	if !ok {
		return false
	}
	return location == roomID || location == canonical
}

func (b *RoomBroadcaster) canonicalRoomID(roomID string) string {
	return b.conns.CanonicalRoomID(roomID)
}
