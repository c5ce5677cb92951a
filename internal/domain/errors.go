package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced quiz, set, schedule or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a schedule is not in the state an operation requires.
	ErrInvalidState = errors.New("invalid state")
	// ErrPersistence wraps failures of the underlying store.
	ErrPersistence = errors.New("persistence failure")
)

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound for the named entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// InvalidState builds an ErrInvalidState describing the offending status.
func InvalidState(entity, id string, status ScheduleStatus) error {
	return fmt.Errorf("%s %q is %s: %w", entity, id, status, ErrInvalidState)
}

// Persistence tags a store error with ErrPersistence while keeping the cause in the chain.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
