package reliability

import (
	"context"
	"errors"
	"time"
)

// BackoffPolicy is a bounded exponential backoff retry policy. Delay for a
// zero-based attempt is min(BaseDelay << attempt, MaxDelay); there is no
// delay before the first try.
type BackoffPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoffPolicy mirrors the pipeline's default retry configuration.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		MaxRetries: 3,
	}
}

// Delay calculates the backoff delay for a zero-based attempt number.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetryResult is the terminal outcome of a retried operation. Exhausting all
// attempts is signalled through the result value, never through a raised
// error, so the caller decides the failure path.
type RetryResult struct {
	Success  bool
	Attempts int
	Err      error
}

// Canceled reports whether the operation ended because its context was
// cancelled rather than because attempts were exhausted.
func (r RetryResult) Canceled() bool {
	return errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded)
}

// RetryNotifier observes each retry attempt before its backoff delay.
// Attempt numbers are zero-based and count retries, not the initial try.
type RetryNotifier func(attempt int, delay time.Duration, err error)

// ExecuteWithRetry calls fn up to MaxRetries+1 times, sleeping the policy
// delay between attempts. Errors marked non-retryable stop immediately.
func ExecuteWithRetry(ctx context.Context, policy BackoffPolicy, notify RetryNotifier, fn func(ctx context.Context) error) RetryResult {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return RetryResult{Success: false, Attempts: attempt, Err: ctx.Err()}
		default:
		}

		err := fn(ctx)
		if err == nil {
			return RetryResult{Success: true, Attempts: attempt + 1}
		}
		lastErr = err

		if !isRetryableError(err) || attempt == policy.MaxRetries {
			return RetryResult{Success: false, Attempts: attempt + 1, Err: lastErr}
		}

		delay := policy.Delay(attempt)
		if notify != nil {
			notify(attempt, delay, err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return RetryResult{Success: false, Attempts: attempt + 1, Err: ctx.Err()}
		}
	}

	return RetryResult{Success: false, Attempts: policy.MaxRetries + 1, Err: lastErr}
}

// isRetryableError determines if an error is retryable. Errors may opt out
// by implementing IsRetryable; unknown errors default to retryable.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}

	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	return true
}
