package dlq

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileStore persists one JSON file per dead-lettered entry. Writes go
// through a temporary file and rename, so a crash mid-write never leaves a
// partial entry visible to listings.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// FileStoreOption configures the file store
type FileStoreOption func(*FileStore)

// WithFileStoreLogger sets the logger
func WithFileStoreLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string, options ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		dir:    dir,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StoreError{Op: "init", Err: err}
	}

	return s, nil
}

// Enqueue implements Store.
func (s *FileStore) Enqueue(ctx context.Context, entry Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &StoreError{Op: "enqueue", Err: err}
	}

	locator := newLocator(time.Now())
	entry.Locator = locator

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", &StoreError{Op: "enqueue", Locator: locator, Err: err}
	}

	final := s.path(locator)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", &StoreError{Op: "enqueue", Locator: locator, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", &StoreError{Op: "enqueue", Locator: locator, Err: err}
	}

	s.logger.Info("dead letter stored",
		"locator", locator,
		"subject", entry.Subject,
		"errorKind", entry.ErrorKind,
		"retryCount", entry.RetryCount,
	)

	return locator, nil
}

// ListPending implements Store. Entries come back in locator order, which is
// arrival order thanks to the timestamp prefix.
func (s *FileStore) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	locators, err := s.locators()
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	if limit > 0 && len(locators) > limit {
		locators = locators[:limit]
	}

	entries := make([]Entry, 0, len(locators))
	for _, locator := range locators {
		if err := ctx.Err(); err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}

		data, err := os.ReadFile(s.path(locator))
		if err != nil {
			if os.IsNotExist(err) {
				continue // removed between listing and read
			}
			return nil, &StoreError{Op: "list", Locator: locator, Err: err}
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			s.logger.Warn("skipping unreadable dead letter entry",
				"locator", locator, "error", err)
			continue
		}
		entry.Locator = locator
		entries = append(entries, entry)
	}

	return entries, nil
}

// Count implements Store.
func (s *FileStore) Count(ctx context.Context) (int, error) {
	locators, err := s.locators()
	if err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return len(locators), nil
}

// Remove implements Store.
func (s *FileStore) Remove(ctx context.Context, locator string) (bool, error) {
	err := os.Remove(s.path(locator))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StoreError{Op: "remove", Locator: locator, Err: err}
	}
	return true, nil
}

// CleanupOlderThan implements Store.
func (s *FileStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	locators, err := s.locators()
	if err != nil {
		return 0, &StoreError{Op: "cleanup", Err: err}
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, locator := range locators {
		written, ok := locatorTime(locator)
		if !ok || !written.Before(cutoff) {
			continue
		}
		if err := os.Remove(s.path(locator)); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, &StoreError{Op: "cleanup", Locator: locator, Err: err}
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("cleaned up expired dead letters", "removed", removed)
	}

	return removed, nil
}

func (s *FileStore) path(locator string) string {
	return filepath.Join(s.dir, locator+".json")
}

func (s *FileStore) locators() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	locators := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		locators = append(locators, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(locators)

	return locators, nil
}

var _ Store = (*FileStore)(nil)
