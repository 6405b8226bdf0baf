package domain

import (
	"errors"
	"fmt"
	"strings"

	"clinicrooms/internal/availability"
	"clinicrooms/internal/lifecycle"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrSlotTaken              = errors.New("slot already taken")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidTransition      = lifecycle.ErrInvalidTransition
)

// ValidationError is malformed input. Nothing was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError lists the requested slots that are already held.
type ConflictError struct {
	Conflicts []availability.Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "slot conflict"
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.String())
	}
	return "slot conflict: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrSlotTaken) match conflict errors.
func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotTaken
}

// ProviderError is a failed or timed-out payment provider call.
type ProviderError struct {
	Op        string
	Err       error
	Retriable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StorageError is a persistence failure. The caller may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsRetriable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retriable
	}
	var se *StorageError
	return errors.As(err, &se)
}
