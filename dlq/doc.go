// Package dlq provides durable storage for messages that exhausted retries
// or were rejected by an open circuit breaker.
//
// Each entry is one durable record keyed by a timestamp-derived locator, so
// concurrent writers never collide and listing returns arrival order.
// Entries are created by the pipeline and read or deleted only by the
// operator-facing administrative surface.
//
// Three implementations share the Store interface: FileStore (one file per
// entry, the default), PostgresStore (one row per entry) and MemoryStore
// (tests and development).
package dlq
