// Package services implements persistence for projects, maps, layers,
// styles, conversations, messages, and PostGIS connections on top of the
// application database pool.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrForbidden is returned when an entity exists but belongs to a
	// different user. API handlers map this to 404 so existence never leaks.
	ErrForbidden = errors.New("access denied")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrCycle is returned when a map parent chain re-encounters a visited id.
	ErrCycle = errors.New("cycle detected in map parent chain")
)

// ValidationError wraps field-specific validation errors.
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
