package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownState indicates the breaker reached an unrepresentable state
	ErrUnknownState = errors.New("circuit breaker: unknown state")
)

// CircuitOpenError is returned when a call is rejected without invoking the
// guarded function.
type CircuitOpenError struct {
	Name             string
	State            State
	Op               string
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitOpenError) Error() string {
	switch e.State {
	case StateOpen:
		retryIn := time.Until(e.NextRetry).Round(time.Second)
		return fmt.Sprintf("circuit breaker %s open: %s blocked (failures=%d/%d, retry in %v)",
			e.Name, e.Op, e.Failures, e.FailureThreshold, retryIn)
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: %s blocked, trial call in flight", e.Name, e.Op)
	default:
		return fmt.Sprintf("circuit breaker %s: %s rejected in state %v", e.Name, e.Op, e.State)
	}
}

// IsRetryable marks breaker rejections as non-retryable; retrying inside the
// open window would defeat the fail-fast contract.
func (e *CircuitOpenError) IsRetryable() bool {
	return false
}

// IsCircuitOpen reports whether err is a circuit breaker rejection.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}
