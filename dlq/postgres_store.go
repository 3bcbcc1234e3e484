package dlq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createDeadLettersTable = `
CREATE TABLE IF NOT EXISTS dead_letters (
	locator       TEXT PRIMARY KEY,
	subject       TEXT NOT NULL,
	payload       JSONB,
	error_message TEXT NOT NULL,
	error_kind    TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	retry_count   INT NOT NULL DEFAULT 0,
	headers       JSONB
)`

// PostgresStore persists one row per dead-lettered entry. Row-level inserts
// give the same one-entry-per-write durability as the file store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// PostgresStoreOption configures the postgres store
type PostgresStoreOption func(*PostgresStore)

// WithPostgresStoreLogger sets the logger
func WithPostgresStoreLogger(logger *slog.Logger) PostgresStoreOption {
	return func(s *PostgresStore) {
		s.logger = logger
	}
}

// NewPostgresStore creates a postgres-backed store and ensures its schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, options ...PostgresStoreOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:   pool,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	if _, err := pool.Exec(ctx, createDeadLettersTable); err != nil {
		return nil, &StoreError{Op: "init", Err: err}
	}

	return s, nil
}

// Enqueue implements Store.
func (s *PostgresStore) Enqueue(ctx context.Context, entry Entry) (string, error) {
	locator := newLocator(time.Now())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letters (locator, subject, payload, error_message, error_kind, ts, retry_count, headers)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		locator, entry.Subject, entry.Payload, entry.ErrorMessage,
		entry.ErrorKind, entry.Timestamp, entry.RetryCount, entry.Headers,
	)
	if err != nil {
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

// ListPending implements Store.
func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT locator, subject, payload, error_message, error_kind, ts, retry_count, headers
		  FROM dead_letters ORDER BY locator`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Locator, &entry.Subject, &entry.Payload,
			&entry.ErrorMessage, &entry.ErrorKind, &entry.Timestamp,
			&entry.RetryCount, &entry.Headers); err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	return entries, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&count)
	if err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return count, nil
}

// Remove implements Store.
func (s *PostgresStore) Remove(ctx context.Context, locator string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE locator = $1`, locator)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, &StoreError{Op: "remove", Locator: locator, Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

// CleanupOlderThan implements Store.
func (s *PostgresStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, &StoreError{Op: "cleanup", Err: err}
	}

	removed := int(tag.RowsAffected())
	if removed > 0 {
		s.logger.Info("cleaned up expired dead letters", "removed", removed)
	}

	return removed, nil
}

var _ Store = (*PostgresStore)(nil)
