package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrRuleNotFound is returned when an operation references a rule id absent
// from the store. Deletion is the documented exception: it treats a missing
// id as a no-op.
var ErrRuleNotFound = errors.New("rule not found")

// ErrInvalidSchedule is returned by NextExecution for out-of-range schedule
// fields instead of producing an undefined instant.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ValidationError reports a malformed or missing field on create/update.
// Nothing is persisted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps a failed durable-store operation. The in-memory rule
// collection is never updated ahead of a successful persist, so callers can
// retry the operation without reconciling divergent state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
