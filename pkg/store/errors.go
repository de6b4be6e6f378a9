package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned on duplicate creation.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrStaleChapter is returned when a compare-and-set on the active
	// chapter fails because another writer advanced the story first.
	ErrStaleChapter = errors.New("active chapter changed")
)

// ValidationError wraps field-specific validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
