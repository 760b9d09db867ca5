package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrInvalidLaw       = errors.New("invalid law")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrEmptyLawName     = errors.New("law name is empty")
	ErrEmptyLawNumber   = errors.New("law number is empty")
	ErrEmptyLawBody     = errors.New("law body is empty")
	ErrInvalidLawID     = errors.New("invalid law id")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrQueryTooShort    = errors.New("query too short")
	ErrQueryInjection   = errors.New("query contains suspicious content")
	ErrLawNotFound      = errors.New("law not found")
)

// ValidationError wraps a sentinel with context.
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
