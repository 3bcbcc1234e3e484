// Package metrics collects per-channel counters and bounded histories for
// the delivery pipeline: processed, failed (also by error kind), retried
// (also by attempt), dead-lettered, the last circuit breaker transitions and
// the last processing-time samples.
//
// All mutation methods are safe under genuinely concurrent invocation; the
// collector may be queried from an administrative path at any time.
package metrics
