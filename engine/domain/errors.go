package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for rejected admin operations.
var (
	ErrDuplicateMake      = errors.New("make already exists")
	ErrDuplicateModel     = errors.New("model already exists for this make")
	ErrDuplicateYear      = errors.New("year already exists for this model")
	ErrDuplicateFixture   = errors.New("fixture id already exists")
	ErrMakeNotFound       = errors.New("make not found")
	ErrModelNotFound      = errors.New("model not found")
	ErrYearNotFound       = errors.New("year not found")
	ErrInvalidVehicleSpec = errors.New("invalid vehicle spec")
	ErrInvalidFixture     = errors.New("invalid fixture")
	ErrUnauthorized       = errors.New("authentication required")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsValidation reports whether err is a user-facing rejected operation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
