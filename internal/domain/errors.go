package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation error")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("conflict")

	// ErrHistoryUnavailable is returned when metadata for a past version is no
	// longer derivable from the store (e.g. its checksum was never stamped).
	ErrHistoryUnavailable = errors.New("version history unavailable")
	// ErrPayloadTooLarge is returned when a full export exceeds the configured cap.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrStreamConsumed is returned when a single-pass stream is iterated twice.
	ErrStreamConsumed = errors.New("stream already consumed")
)

// ErrVersionAhead is returned when a client claims a version the server has not
// committed yet. It is a validation error.
var ErrVersionAhead = fmt.Errorf("%w: version is ahead of the current version", ErrValidation)

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}
