// Package pipeline is the top of the delivery pipeline: it validates each
// inbound payload, runs the processing step under a circuit breaker with
// bounded exponential-backoff retries, dispatches survivors to the channel
// router, and dead-letters everything else.
//
// The handler never lets a failure escape: every path ends in either a
// successful dispatch or a dead-letter write plus a metrics record. The
// single exception is a failed dead-letter write, which is returned to the
// transport so redelivery can be attempted.
package pipeline
