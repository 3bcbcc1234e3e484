package routing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mudtide/chatrelay/connections"
	"github.com/mudtide/chatrelay/contracts"
)

// Strategy delivers a validated message according to its channel's policy.
type Strategy interface {
	Deliver(ctx context.Context, msg *contracts.ChatMessage) error
	Name() string
}

// Router maps each channel to its delivery strategy. Unknown channels
// resolve to a log-only no-op; a strategy failure is contained at the
// dispatch boundary and never propagates back into the ingestion loop.
type Router struct {
	strategies map[contracts.Channel]Strategy
	unknown    Strategy
	logger     *slog.Logger
}

// RouterOption configures the router
type RouterOption func(*Router)

// WithRouterLogger sets the logger
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithStrategy overrides the strategy for a channel
func WithStrategy(channel contracts.Channel, strategy Strategy) RouterOption {
	return func(r *Router) {
		r.strategies[channel] = strategy
	}
}

// NewRouter builds the default strategy table over the given collaborators.
func NewRouter(conns connections.Registry, rooms *RoomBroadcaster, options ...RouterOption) *Router {
	logger := slog.Default()

	r := &Router{
		strategies: make(map[contracts.Channel]Strategy),
		logger:     logger,
	}

	for _, opt := range options {
		opt(r)
	}

	defaults := map[contracts.Channel]Strategy{
		contracts.ChannelSay:     &roomScopedStrategy{channel: contracts.ChannelSay, rooms: rooms, logger: r.logger},
		contracts.ChannelEmote:   &roomScopedStrategy{channel: contracts.ChannelEmote, rooms: rooms, logger: r.logger},
		contracts.ChannelYell:    &roomScopedStrategy{channel: contracts.ChannelYell, rooms: rooms, logger: r.logger},
		contracts.ChannelOOC:     &globalStrategy{conns: conns},
		contracts.ChannelSystem:  &systemStrategy{channel: contracts.ChannelSystem, conns: conns},
		contracts.ChannelAdmin:   &systemStrategy{channel: contracts.ChannelAdmin, conns: conns},
		contracts.ChannelWhisper: &whisperStrategy{conns: conns, logger: r.logger},
		contracts.ChannelParty:   &partyStrategy{logger: r.logger},
	}
	for channel, strategy := range defaults {
		if _, overridden := r.strategies[channel]; !overridden {
			r.strategies[channel] = strategy
		}
	}

	r.unknown = &unknownStrategy{logger: r.logger}

	return r
}

// Dispatch routes a message to its channel's strategy. Any error or panic
// raised by the strategy is caught and logged here; a broadcast failure must
// never crash the caller.
func (r *Router) Dispatch(ctx context.Context, msg *contracts.ChatMessage) {
	strategy, ok := r.strategies[msg.Channel]
	if !ok {
		strategy = r.unknown
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("broadcast strategy panicked",
				"strategy", strategy.Name(),
				"channel", msg.Channel.String(),
				"messageId", msg.MessageID,
				"panic", rec,
			)
		}
	}()

	if err := strategy.Deliver(ctx, msg); err != nil {
		r.logger.Error("broadcast strategy failed",
			"strategy", strategy.Name(),
			"channel", msg.Channel.String(),
			"messageId", msg.MessageID,
			"error", err,
		)
	}
}

// roomScopedStrategy delivers to the subscribers of the message's room.
type roomScopedStrategy struct {
	channel contracts.Channel
	rooms   *RoomBroadcaster
	logger  *slog.Logger
}

func (s *roomScopedStrategy) Name() string {
	return fmt.Sprintf("room-scoped(%s)", s.channel)
}

func (s *roomScopedStrategy) Deliver(ctx context.Context, msg *contracts.ChatMessage) error {
	// Malformed upstream events must not crash the router; a missing room
	// is a logged no-op.
	if msg.RoomID == "" {
		s.logger.Warn("room-scoped message without roomId dropped",
			"channel", s.channel.String(), "messageId", msg.MessageID)
		return nil
	}

	s.rooms.BroadcastToRoom(ctx, msg.RoomID, msg)
	return nil
}

// globalStrategy broadcasts to every connected destination except the sender.
type globalStrategy struct {
	conns connections.Registry
}

func (s *globalStrategy) Name() string {
	return "global"
}

func (s *globalStrategy) Deliver(ctx context.Context, msg *contracts.ChatMessage) error {
	return s.conns.SendToAll(ctx, msg.Event(), msg.SenderID)
}

// systemStrategy broadcasts operator traffic to everyone except the sender.
type systemStrategy struct {
	channel contracts.Channel
	conns   connections.Registry
}

func (s *systemStrategy) Name() string {
	return fmt.Sprintf("system(%s)", s.channel)
}

func (s *systemStrategy) Deliver(ctx context.Context, msg *contracts.ChatMessage) error {
	return s.conns.SendToAll(ctx, msg.Event(), msg.SenderID)
}

// whisperStrategy sends directly to the one target destination.
type whisperStrategy struct {
	conns  connections.Registry
	logger *slog.Logger
}

func (s *whisperStrategy) Name() string {
	return "direct-whisper"
}

func (s *whisperStrategy) Deliver(ctx context.Context, msg *contracts.ChatMessage) error {
	if msg.TargetPlayerID == "" {
		s.logger.Warn("whisper without targetPlayerId dropped",
			"messageId", msg.MessageID, "senderId", msg.SenderID)
		return nil
	}

	return s.conns.SendToOne(ctx, msg.TargetPlayerID, msg.Event())
}

// partyStrategy accepts party messages but delivery waits on a party
// subsystem. TODO: route through party membership once the party service
// exposes roster lookups.
type partyStrategy struct {
	logger *slog.Logger
}

func (s *partyStrategy) Name() string {
	return "party"
}

func (s *partyStrategy) Deliver(ctx context.Context, msg *contracts.ChatMessage) error {
	s.logger.Info("party channel not yet routed, message dropped",
		"messageId", msg.MessageID, "partyId", msg.PartyID)
	return nil
}

// unknownStrategy only logs. Unmapped identifiers land here.
type unknownStrategy struct {
	logger *slog.Logger
}

func (s *unknownStrategy) Name() string {
	return "unknown"
}

func (s *unknownStrategy) Deliver(ctx context.Context, msg *contracts.ChatMessage) error {
	s.logger.Warn("no broadcast strategy for channel",
		"channel", msg.Channel.String(), "messageId", msg.MessageID)
	return nil
}
