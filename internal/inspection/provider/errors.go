package provider

import (
	"errors"
	"fmt"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

// ErrorCategory normalizes provider failures for logging and retry decisions.
type ErrorCategory string

const (
	// ErrorTimeout indicates the check did not settle within the provider's
	// internal deadline.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorUnavailable indicates the underlying signal source is not present
	// (no GPS fix possible, no beacon in range, camera busy).
	ErrorUnavailable ErrorCategory = "unavailable"

	// ErrorCanceled indicates the attempt was abandoned by the sequencer.
	ErrorCanceled ErrorCategory = "canceled"

	// ErrorInternal indicates an unexpected provider fault.
	ErrorInternal ErrorCategory = "internal"
)

// AttemptError wraps provider faults with normalized categorization.
type AttemptError struct {
	Category  ErrorCategory
	Method    model.Method
	Message   string
	Err       error
	Retryable bool
}

func (e *AttemptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Method, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Method, e.Category, e.Message)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// NewAttemptError creates a normalized provider error. Timeouts and
// unavailable signal sources are worth retrying; cancellations are not.
func NewAttemptError(category ErrorCategory, m model.Method, message string, err error) *AttemptError {
	return &AttemptError{
		Category:  category,
		Method:    m,
		Message:   message,
		Err:       err,
		Retryable: category == ErrorTimeout || category == ErrorUnavailable,
	}
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// Category extracts the error category, defaulting to internal.
func Category(err error) ErrorCategory {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ErrorInternal
}
