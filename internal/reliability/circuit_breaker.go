package reliability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChangeListener receives circuit breaker state change notifications.
// Listeners are invoked synchronously under the breaker's lock ordering, so
// implementations must not call back into the breaker.
type StateChangeListener interface {
	OnStateChange(from, to State, reason string)
}

// StateChangeListenerFunc is a function adapter for StateChangeListener
type StateChangeListenerFunc func(from, to State, reason string)

func (f StateChangeListenerFunc) OnStateChange(from, to State, reason string) {
	f(from, to, reason)
}

// CircuitBreaker implements the circuit breaker pattern guarding message
// processing. A single breaker instance is owned per process; state is
// mutated only through Execute and Reset.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	trialInFlight   bool

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	name             string

	listeners []StateChangeListener
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the consecutive-failure count that opens the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets the consecutive successes required to close a half-open circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithOpenTimeout sets how long the circuit stays open before allowing a trial call
func WithOpenTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.openTimeout = timeout
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithStateChangeListener registers a state change listener
func WithStateChangeListener(listener StateChangeListener) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.listeners = append(cb.listeners, listener)
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
		openTimeout:      30 * time.Second,
		name:             "default",
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Execute runs fn with circuit breaker protection. When the circuit is open
// and the open timeout has not elapsed, fn is not invoked and a
// *CircuitOpenError is returned immediately.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.canExecute(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		cb.releaseTrial()
		return ctx.Err()
	default:
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the current consecutive counters and last failure time.
func (cb *CircuitBreaker) Stats() (failures, successes int, lastFailure time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes, cb.lastFailureTime
}

// Reset forces the breaker closed with counters zeroed. This is an
// administrative escape hatch, not part of normal flow.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	oldState := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.trialInFlight = false
	listeners := cb.snapshotListeners()
	cb.mu.Unlock()

	if oldState != StateClosed {
		notify(listeners, oldState, StateClosed, "manual reset")
	}
}

// canExecute checks if execution is allowed, transitioning open circuits to
// half-open once the open timeout has elapsed.
func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()

	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return nil

	case StateOpen:
		nextRetry := cb.lastFailureTime.Add(cb.openTimeout)
		if time.Now().Before(nextRetry) {
			err := cb.openError("execute", nextRetry)
			cb.mu.Unlock()
			return err
		}
		oldState := cb.state
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.trialInFlight = true
		listeners := cb.snapshotListeners()
		cb.mu.Unlock()
		notify(listeners, oldState, StateHalfOpen, "open timeout elapsed")
		return nil

	case StateHalfOpen:
		// Only one trial call may be outstanding at a time.
		if cb.trialInFlight {
			err := cb.openError("execute", time.Now().Add(time.Second))
			cb.mu.Unlock()
			return err
		}
		cb.trialInFlight = true
		cb.mu.Unlock()
		return nil

	default:
		cb.mu.Unlock()
		return ErrUnknownState
	}
}

// releaseTrial frees the half-open trial slot without recording an outcome,
// used when the guarded call is abandoned before running.
func (cb *CircuitBreaker) releaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

// recordResult records the terminal outcome of a guarded execution. Context
// cancellation is neither a failure nor a success: a shutdown must not open
// the circuit, so the trial slot is released without touching the counters.
func (cb *CircuitBreaker) recordResult(err error) {
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		cb.releaseTrial()
		return
	}

	cb.mu.Lock()

	var (
		oldState  = cb.state
		newState  = cb.state
		reason    string
		listeners []StateChangeListener
	)

	cb.trialInFlight = false

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailureTime = time.Now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.state = StateOpen
				newState = StateOpen
				reason = fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold)
			}
		case StateHalfOpen:
			cb.state = StateOpen
			newState = StateOpen
			reason = "failure in half-open state"
		}
	} else {
		cb.successes++

		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			if cb.successes >= cb.successThreshold {
				cb.state = StateClosed
				newState = StateClosed
				cb.failures = 0
				cb.successes = 0
				reason = fmt.Sprintf("success threshold reached (%d)", cb.successThreshold)
			}
		}
	}

	if newState != oldState {
		listeners = cb.snapshotListeners()
	}
	cb.mu.Unlock()

	if newState != oldState {
		notify(listeners, oldState, newState, reason)
	}
}

func (cb *CircuitBreaker) openError(op string, nextRetry time.Time) *CircuitOpenError {
	return &CircuitOpenError{
		Name:             cb.name,
		State:            cb.state,
		Op:               op,
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		LastFailure:      cb.lastFailureTime,
		NextRetry:        nextRetry,
	}
}

func (cb *CircuitBreaker) snapshotListeners() []StateChangeListener {
	listeners := make([]StateChangeListener, len(cb.listeners))
	copy(listeners, cb.listeners)
	return listeners
}

func notify(listeners []StateChangeListener, from, to State, reason string) {
	for _, l := range listeners {
		l.OnStateChange(from, to, reason)
	}
}
