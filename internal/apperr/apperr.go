// Package apperr defines the error kinds shared by every layer of the
// service and their mapping to HTTP status codes.
//
// Callers test kinds with errors.Is against the sentinels. The typed
// errors (ValidationError, TransitionError, DependencyError) carry the
// details the API reports and unwrap to their sentinel.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	ErrUnauthorized         = errors.New("authentication required")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrDependencyUnresolved = errors.New("dependency unresolved")
	ErrConflict             = errors.New("conflict")
	ErrValidation           = errors.New("validation error")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError. The message is formatted with args.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError reports a state change outside the allowed edge set.
type TransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DependencyError reports the dependencies that keep a task from
// reaching done.
type DependencyError struct {
	TaskID   int64
	Blocking []int64
}

func (e *DependencyError) Error() string {
	ids := make([]string, len(e.Blocking))
	for i, id := range e.Blocking {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("task %d has unresolved dependencies: %s", e.TaskID, strings.Join(ids, ", "))
}

func (e *DependencyError) Unwrap() error { return ErrDependencyUnresolved }

// Status maps err to the HTTP status code the API returns for it.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDependencyUnresolved),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code maps err to the stable machine-readable code in API error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDependencyUnresolved):
		return "dependency_unresolved"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal_error"
	}
}

// Public reports whether err's message is safe to show to callers.
// Internal errors are logged and replaced by a generic message.
func Public(err error) bool {
	return Status(err) != http.StatusInternalServerError
}
