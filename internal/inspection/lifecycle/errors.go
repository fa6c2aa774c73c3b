package lifecycle

import (
	"errors"
	"fmt"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

var (
	// ErrInvalidTransition rejects an operation invoked from the wrong step.
	// The session is unchanged; the caller re-renders the current legal state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation rejects input that fails field validation (empty required
	// form field, empty or unknown override reason). The session is unchanged.
	ErrValidation = errors.New("validation error")

	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// InvalidTransitionError carries the step, event, and decision reason for a
// rejected operation.
type InvalidTransitionError struct {
	Step   model.Step
	Event  EventKind
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: step=%s event=%s reason=%s", e.Step, e.Event, e.Reason)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NewInvalidTransition builds the rejection error for step×event, taking the
// forbidden-reason from the decision table when one exists.
func NewInvalidTransition(step model.Step, ev EventKind) error {
	reason := ForbiddenOutOfOrder
	if d, ok := DecisionFor(step, ev); ok && !d.Allowed {
		reason = d.Reason
	}
	return &InvalidTransitionError{Step: step, Event: ev, Reason: reason}
}

// ValidationError identifies the offending field.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field=%s detail=%s", e.Field, e.Detail)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
