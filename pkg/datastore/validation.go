package datastore

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports one or more field-level problems found before a
// write was attempted, distinct from a database error: the caller passed
// bad data, the store was never touched.
type ValidationError struct {
	FieldErrors map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{FieldErrors: make(map[string]string)}
}

func (e *ValidationError) add(field, reason string) {
	e.FieldErrors[field] = reason
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.FieldErrors))
	for f := range e.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.FieldErrors[f]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) hasErrors() bool {
	return len(e.FieldErrors) > 0
}

func requireNonEmpty(e *ValidationError, field, value string) {
	if strings.TrimSpace(value) == "" {
		e.add(field, "must not be empty")
	}
}
