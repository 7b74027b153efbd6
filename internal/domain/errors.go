package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrConcurrentModification  = errors.New("concurrent modification")
	ErrValidation              = errors.New("validation failed")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrForbidden               = errors.New("forbidden")
	ErrAlreadyRedeemed         = errors.New("reward already redeemed")
)

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// CollaboratorError wraps a failure of an external dependency such as storage,
// the fitness source, or the companion generator.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Is(target error) bool { return target == ErrCollaboratorUnavailable }

func (e *CollaboratorError) Unwrap() error { return e.Err }
