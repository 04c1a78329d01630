package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a tenant-scoped lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned when a mutation is attempted while the
	// tenant is in read-only mode. Never auto-retried.
	ErrReadOnly = errors.New("tenant is read-only")
)

// ValidationError reports a malformed or out-of-range rule definition.
// It is raised before any persistence happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalidf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
