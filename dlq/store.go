package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is a durable record of a message that exhausted retries or was
// rejected by an open circuit.
type Entry struct {
	// Locator identifies the stored record. Assigned by the store on
	// enqueue; empty on a freshly built entry.
	Locator string `json:"locator,omitempty"`

	Subject      string                 `json:"subject"`
	Payload      json.RawMessage        `json:"payload"`
	ErrorMessage string                 `json:"errorMessage"`
	ErrorKind    string                 `json:"errorKind"`
	Timestamp    time.Time              `json:"timestamp"`
	RetryCount   int                    `json:"retryCount"`
	Headers      map[string]interface{} `json:"headers,omitempty"`
}

// Store persists dead-lettered messages. Writes are durable and crash-safe
// at the granularity of one entry: no partial entry is ever visible.
type Store interface {
	// Enqueue stores an entry and returns its locator.
	Enqueue(ctx context.Context, entry Entry) (string, error)

	// ListPending returns stored entries in arrival order. A non-positive
	// limit returns all entries.
	ListPending(ctx context.Context, limit int) ([]Entry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Remove deletes an entry by locator, reporting whether it existed.
	Remove(ctx context.Context, locator string) (bool, error)

	// CleanupOlderThan deletes entries older than maxAge and returns how
	// many were removed.
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

// newLocator generates a unique, chronologically sortable locator. The
// timestamp prefix gives natural arrival ordering on listing; the random
// suffix keeps concurrent writers from colliding.
func newLocator(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.New().String()[:8])
}

// locatorTime recovers the write time encoded in a locator.
func locatorTime(locator string) (time.Time, bool) {
	if len(locator) < 20 {
		return time.Time{}, false
	}
	var nanos int64
	if _, err := fmt.Sscanf(locator[:20], "%d", &nanos); err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// StoreError wraps a failed store operation with context.
type StoreError struct {
	Op      string
	Locator string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("dlq: %s failed for entry %s: %v", e.Op, e.Locator, e.Err)
	}
	return fmt.Sprintf("dlq: %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
