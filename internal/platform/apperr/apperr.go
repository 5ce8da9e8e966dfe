// Package apperr defines the error kinds shared by the engine and its HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means a referenced student, knowledge component, content item or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means the caller sent something the engine cannot accept.
	ErrValidation = errors.New("validation failed")
	// ErrNoContentAvailable means a knowledge component has no content items to serve.
	ErrNoContentAvailable = errors.New("no content available")
	// ErrConcurrencyConflict means an optimistic update lost a race with another writer.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrDuplicate means the same submission was already recorded.
	ErrDuplicate = errors.New("duplicate submission")
)

// FieldError reports a problem with a single input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field details and matches ErrValidation.
type ValidationError struct {
	Msg    string
	Fields []FieldError
}

// Validation builds a ValidationError with a formatted message.
func Validation(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Msg
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	if e.Msg == "" {
		return strings.Join(parts, "; ")
	}
	return e.Msg + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match a *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFound wraps ErrNotFound with the kind and id of the missing entity.
func NotFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}
