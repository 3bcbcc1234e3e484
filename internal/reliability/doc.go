// Package reliability provides the failure-handling primitives of the
// delivery pipeline.
//
// Two patterns are implemented:
//   - Circuit Breaker: a tri-state gate (closed, open, half-open) wrapping
//     message processing. Opening fails calls fast instead of piling retries
//     onto a struggling downstream; half-open lets exactly one trial call
//     through at a time.
//   - Retry executor: bounded exponential backoff that reports its terminal
//     outcome as a value. The breaker observes only that terminal outcome,
//     not each individual retry.
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithFailureThreshold(5),
//	    WithSuccessThreshold(3),
//	    WithOpenTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    res := ExecuteWithRetry(ctx, DefaultBackoffPolicy(), nil, process)
//	    if res.Success {
//	        return nil
//	    }
//	    return res.Err
//	})
package reliability
