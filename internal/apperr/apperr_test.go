package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusAndCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"forbidden wrapped", fmt.Errorf("delete project 3: %w", ErrForbidden), http.StatusForbidden, "forbidden"},
		{"not found", ErrNotFound, http.StatusNotFound, "not_found"},
		{"validation", Invalid("name", "must not be empty"), http.StatusBadRequest, "validation_error"},
		{"transition", &TransitionError{Entity: "task", From: "todo", To: "done"}, http.StatusConflict, "invalid_transition"},
		{"dependency", &DependencyError{TaskID: 1, Blocking: []int64{2}}, http.StatusConflict, "dependency_unresolved"},
		{"conflict", ErrConflict, http.StatusConflict, "conflict"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.status {
				t.Errorf("Status = %d, want %d", got, tt.status)
			}
			if got := Code(tt.err); got != tt.code {
				t.Errorf("Code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	var err error = &DependencyError{TaskID: 7, Blocking: []int64{8, 9}}
	if !errors.Is(err, ErrDependencyUnresolved) {
		t.Fatal("DependencyError does not unwrap to ErrDependencyUnresolved")
	}
	if got, want := err.Error(), "task 7 has unresolved dependencies: 8, 9"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var validation *ValidationError
	if !errors.As(fmt.Errorf("create label: %w", Invalid("name", "at most %d characters", 50)), &validation) {
		t.Fatal("errors.As did not find ValidationError")
	}
	if validation.Field != "name" || validation.Message != "at most 50 characters" {
		t.Errorf("validation = %+v", validation)
	}
}
