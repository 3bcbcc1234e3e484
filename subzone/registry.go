package subzone

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Transport is the narrow slice of the messaging transport the registry
// drives: one upstream subscription per active subzone.
type Transport interface {
	Subscribe(ctx context.Context, subject string) error
	Unsubscribe(ctx context.Context, subject string) (bool, error)
}

// KeyFromRoom derives the subzone key from a room identifier. Rooms are
// named <zone>:<subzone>:<room>; the subzone key is the first two segments.
// Identifiers without both separators have no subzone.
func KeyFromRoom(roomID string) string {
	parts := strings.SplitN(roomID, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	if parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + ":" + parts[1]
}

// Registry maintains reference-counted subzone subscriptions and per-player
// subzone tracking. The underlying transport subscription for a subzone
// exists iff its refcount is positive.
//
// Every operation is exception-safe: internal errors are caught, logged and
// degrade to a no-op or false return rather than propagating.
type Registry struct {
	mu        sync.Mutex
	transport Transport
	logger    *slog.Logger

	refCounts      map[string]int
	playerSubzones map[string]string

	// subjectPrefix is prepended to subzone keys to form transport subjects.
	subjectPrefix string
}

// RegistryOption configures the registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithSubjectPrefix sets the transport subject prefix for subzone subscriptions
func WithSubjectPrefix(prefix string) RegistryOption {
	return func(r *Registry) {
		r.subjectPrefix = prefix
	}
}

// NewRegistry creates a registry driving subscriptions on the given transport.
func NewRegistry(transport Transport, options ...RegistryOption) *Registry {
	r := &Registry{
		transport:      transport,
		logger:         slog.Default(),
		refCounts:      make(map[string]int),
		playerSubzones: make(map[string]string),
		subjectPrefix:  "subzone.",
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// SubscribeToSubzone increments the subzone's refcount. The first caller
// performs the real upstream subscribe; later callers only increment.
func (r *Registry) SubscribeToSubzone(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refCounts[key] > 0 {
		r.refCounts[key]++
		r.logger.Debug("subzone subscription shared",
			"subzone", key, "refCount", r.refCounts[key])
		return true
	}

	if err := r.transport.Subscribe(ctx, r.subject(key)); err != nil {
		r.logger.Error("subzone subscribe failed", "subzone", key, "error", err)
		return false
	}

	r.refCounts[key] = 1
	r.logger.Info("subzone subscription opened", "subzone", key)
	return true
}

// UnsubscribeFromSubzone decrements the subzone's refcount, performing the
// real upstream unsubscribe only when the count reaches zero.
func (r *Registry) UnsubscribeFromSubzone(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unsubscribeLocked(ctx, key)
}

func (r *Registry) unsubscribeLocked(ctx context.Context, key string) bool {
	count, ok := r.refCounts[key]
	if !ok || count <= 0 {
		return false
	}

	if count > 1 {
		r.refCounts[key] = count - 1
		r.logger.Debug("subzone subscription released",
			"subzone", key, "refCount", count-1)
		return true
	}

	delete(r.refCounts, key)
	if _, err := r.transport.Unsubscribe(ctx, r.subject(key)); err != nil {
		r.logger.Error("subzone unsubscribe failed", "subzone", key, "error", err)
		return false
	}

	r.logger.Info("subzone subscription closed", "subzone", key)
	return true
}

// TrackPlayerSubzone records a player's current subzone. If it differs from
// their previous one, the previous subzone's refcount is decremented, but
// the upstream unsubscribe is not triggered here; HandlePlayerMovement
// drives that, keeping the two operations independently testable.
func (r *Registry) TrackPlayerSubzone(playerID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.playerSubzones[playerID]
	if had && prev == key {
		return
	}

	if had && prev != "" {
		if count := r.refCounts[prev]; count > 0 {
			r.refCounts[prev] = count - 1
		}
	}

	if key == "" {
		delete(r.playerSubzones, playerID)
		return
	}
	r.playerSubzones[playerID] = key
}

// HandlePlayerMovement reconciles subscriptions when a player moves between
// rooms. Keys are derived from both room identifiers; only the transitions
// that actually change subzone touch the transport.
func (r *Registry) HandlePlayerMovement(ctx context.Context, playerID, oldRoomID, newRoomID string) {
	oldKey := KeyFromRoom(oldRoomID)
	newKey := KeyFromRoom(newRoomID)

	if oldKey == newKey {
		if newKey != "" {
			r.trackOnly(playerID, newKey)
		}
		return
	}

	switch {
	case oldKey == "" && newKey != "":
		r.SubscribeToSubzone(ctx, newKey)
		r.trackOnly(playerID, newKey)

	case oldKey != "" && newKey == "":
		r.UnsubscribeFromSubzone(ctx, oldKey)
		r.forgetPlayer(playerID)

	default:
		r.UnsubscribeFromSubzone(ctx, oldKey)
		r.SubscribeToSubzone(ctx, newKey)
		r.trackOnly(playerID, newKey)
	}
}

// trackOnly updates the player's tracked subzone without touching refcounts;
// movement handling has already reconciled them.
func (r *Registry) trackOnly(playerID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playerSubzones[playerID] = key
}

func (r *Registry) forgetPlayer(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.playerSubzones, playerID)
}

// PlayersInSubzone returns the players currently tracked in a subzone.
func (r *Registry) PlayersInSubzone(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var players []string
	for playerID, k := range r.playerSubzones {
		if k == key {
			players = append(players, playerID)
		}
	}
	return players
}

// RefCount returns the current refcount for a subzone.
func (r *Registry) RefCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refCounts[key]
}

// CleanupEmptySubzones unsubscribes any subzone whose tracked player set is
// empty, independent of refcount bookkeeping. It is a consistency backstop
// against drift between tracking and refcounts.
func (r *Registry) CleanupEmptySubzones(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupied := make(map[string]bool, len(r.playerSubzones))
	for _, key := range r.playerSubzones {
		occupied[key] = true
	}

	cleaned := 0
	for key := range r.refCounts {
		if occupied[key] {
			continue
		}
		delete(r.refCounts, key)
		if _, err := r.transport.Unsubscribe(ctx, r.subject(key)); err != nil {
			r.logger.Error("subzone cleanup unsubscribe failed",
				"subzone", key, "error", err)
			continue
		}
		r.logger.Info("cleaned up empty subzone subscription", "subzone", key)
		cleaned++
	}

	return cleaned
}

func (r *Registry) subject(key string) string {
	return r.subjectPrefix + key
}
