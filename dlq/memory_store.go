package dlq

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in memory. It exists for tests and local
// development; production deployments use FileStore or PostgresStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(ctx context.Context, entry Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locator := newLocator(time.Now())
	entry.Locator = locator
	s.entries[locator] = entry
	s.order = append(s.order, locator)

	return locator, nil
}

// ListPending implements Store.
func (s *MemoryStore) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.order))
	for _, locator := range s.order {
		if entry, ok := s.entries[locator]; ok {
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
	}

	return entries, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(ctx context.Context, locator string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[locator]; !ok {
		return false, nil
	}
	delete(s.entries, locator)
	for i, l := range s.order {
		if l == locator {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return true, nil
}

// CleanupOlderThan implements Store.
func (s *MemoryStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	kept := s.order[:0]

	for _, locator := range s.order {
		written, ok := locatorTime(locator)
		if ok && written.Before(cutoff) {
			delete(s.entries, locator)
			removed++
			continue
		}
		kept = append(kept, locator)
	}
	s.order = kept

	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
