package contracts

import (
	"errors"
	"fmt"
)

// Error kinds recorded in metrics and dead-letter entries.
const (
	ErrorKindValidation  = "validation"
	ErrorKindCircuitOpen = "circuit_open"
	ErrorKindTransient   = "transient"
	ErrorKindUnhandled   = "unhandled"
)

// ValidationError reports malformed input. Validation failures are never
// retried; they go straight to the dead letter store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsRetryable marks validation failures as permanent; retrying malformed
// input cannot fix it.
func (e *ValidationError) IsRetryable() bool {
	return false
}

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks a processing failure that is expected to clear on
// retry, such as a downstream timeout.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRetryable marks transient errors as safe to retry.
func (e *TransientError) IsRetryable() bool {
	return true
}

// NewTransientError wraps err as a retryable processing failure.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// IsTransientError reports whether err is (or wraps) a TransientError.
func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ErrorKind classifies err into the metric/dead-letter taxonomy.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidationError(err):
		return ErrorKindValidation
	case IsTransientError(err):
		return ErrorKindTransient
	default:
		return ErrorKindUnhandled
	}
}
