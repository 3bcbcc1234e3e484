package routing

import (
	"sync"
	"time"
)

const (
	defaultEchoCapacity = 4096
	defaultEchoTTL      = 30 * time.Second
)

// EchoSuppressor is a short-lived registry of message ids whose senders have
// already rendered their own action optimistically. An entry is a single-use
// de-duplication token: Consume removes it.
//
// The cache is bounded by capacity and TTL so sustained load cannot grow it
// without limit.
type EchoSuppressor struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	capacity int
	ttl      time.Duration
}

// EchoSuppressorOption configures the suppressor
type EchoSuppressorOption func(*EchoSuppressor)

// WithEchoCapacity sets the maximum number of retained tokens
func WithEchoCapacity(capacity int) EchoSuppressorOption {
	return func(e *EchoSuppressor) {
		e.capacity = capacity
	}
}

// WithEchoTTL sets how long a token stays valid
func WithEchoTTL(ttl time.Duration) EchoSuppressorOption {
	return func(e *EchoSuppressor) {
		e.ttl = ttl
	}
}

// NewEchoSuppressor creates an empty suppressor.
func NewEchoSuppressor(options ...EchoSuppressorOption) *EchoSuppressor {
	e := &EchoSuppressor{
		entries:  make(map[string]time.Time),
		capacity: defaultEchoCapacity,
		ttl:      defaultEchoTTL,
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// Mark registers a message id for echo suppression.
func (e *EchoSuppressor) Mark(messageID string) {
	if messageID == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pruneLocked()
	if len(e.entries) >= e.capacity {
		// At capacity even after pruning: oldest entries are indistinguishable
		// cheaply, so drop the new mark. A missed suppression means one
		// duplicate echo, which the client tolerates.
		return
	}
	e.entries[messageID] = time.Now().Add(e.ttl)
}

// Consume reports whether the message id was marked and removes the token.
func (e *EchoSuppressor) Consume(messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	deadline, ok := e.entries[messageID]
	if !ok {
		return false
	}
	delete(e.entries, messageID)

	return time.Now().Before(deadline)
}

// Len returns the number of live tokens.
func (e *EchoSuppressor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	return len(e.entries)
}

func (e *EchoSuppressor) pruneLocked() {
	now := time.Now()
	for id, deadline := range e.entries {
		if now.After(deadline) {
			delete(e.entries, id)
		}
	}
}
