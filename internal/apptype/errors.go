package apptype

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
)

// Sentinel errors for engine operations. Callers match with errors.Is.
var (
	// ErrNotFound indicates a lookup miss for a node or edge id. Often an
	// expected condition, not a fault.
	ErrNotFound = errors.New("not found")

	// ErrUnknownType indicates a type name that was never registered.
	ErrUnknownType = errors.New("unknown type")

	// ErrShapeViolation indicates a write rejected by constraint validation.
	// The concrete error is a *ShapeError carrying field-level detail.
	ErrShapeViolation = errors.New("shape violation")

	// ErrInconsistent indicates drift between the graph store and the
	// vector index. It is surfaced, never auto-corrected inline; call
	// the repair operation to close it.
	ErrInconsistent = errors.New("stores inconsistent")

	// ErrNoPlanFound indicates the planner exhausted its depth bound
	// without reaching a satisfied start state.
	ErrNoPlanFound = errors.New("no plan found")

	// ErrAmbiguousGoal indicates the goal pattern matched zero nodes.
	ErrAmbiguousGoal = errors.New("ambiguous goal")

	// ErrInvalidTransition indicates a tier transition the state machine
	// does not permit.
	ErrInvalidTransition = errors.New("invalid tier transition")
)

// FieldError names one field that failed shape validation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ShapeError is the structured result of a failed validation. It wraps
// ErrShapeViolation so errors.Is works on the sentinel.
type ShapeError struct {
	Subject string       `json:"subject"`
	Fields  []FieldError `json:"fields"`
}

func (e *ShapeError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Reason)
	}
	return fmt.Sprintf("shape violation on %s: %s", e.Subject, strings.Join(parts, "; "))
}

func (e *ShapeError) Unwrap() error { return ErrShapeViolation }

// NewShapeError builds a ShapeError for the given subject.
func NewShapeError(subject string, fields ...FieldError) *ShapeError {
	return &ShapeError{Subject: subject, Fields: fields}
}

// IsRetryable reports whether err represents a transient failure that a
// caller may retry with backoff: a store call timeout or a tripped
// circuit breaker. Validation and lookup failures are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}
