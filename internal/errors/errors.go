// Package errors holds the error taxonomy shared by every runstore package.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
// - A collector for validation errors
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrRecordNotFound = errors.New("record not found")

	// Already exists errors
	ErrAlreadyExists     = errors.New("already exists")
	ErrFileAlreadyExists = errors.New("file already exists")
	ErrDuplicateNumber   = errors.New("run number already exists")

	// Validation errors
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// Conversion errors
	ErrUnsupportedType = errors.New("unsupported value type")
	ErrFieldConversion = errors.New("field conversion failed")
	ErrRaggedArray     = errors.New("ragged array")

	// Catalog errors
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrCatalogDisabled    = errors.New("catalog disabled")
	ErrCatalogClosed      = errors.New("catalog is closed")
	ErrCounterConflict    = errors.New("counter update conflict")

	// Container errors
	ErrInvalidFormat = errors.New("invalid container format")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsAlreadyExists returns true if err is an already-exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrFileAlreadyExists) ||
		errors.Is(err, ErrDuplicateNumber)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidPipeline)
}

// IsConversion returns true if err came from converting a field value.
func IsConversion(err error) bool {
	return errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrFieldConversion) ||
		errors.Is(err, ErrRaggedArray)
}

// IsCatalogUnavailable returns true if the catalog could not serve the
// request because it is unreachable, disabled, closed or failing server-side.
func IsCatalogUnavailable(err error) bool {
	return errors.Is(err, ErrCatalogUnavailable) ||
		errors.Is(err, ErrCatalogDisabled) ||
		errors.Is(err, ErrCatalogClosed)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Unavailable marks err as a catalog availability failure while keeping
// the underlying cause in the chain.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCatalogUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewAlreadyExists creates an already-exists error with context.
func NewAlreadyExists(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrAlreadyExists)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidFilter creates an error for a query filter that cannot be applied.
func NewInvalidFilter(field, reason string) error {
	return fmt.Errorf("filter %q: %s: %w", field, reason, ErrInvalidFilter)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
