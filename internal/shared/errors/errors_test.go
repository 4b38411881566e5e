package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFromViolation(t *testing.T) {
	tests := []struct {
		kind   string
		status int
		code   string
	}{
		{"authorization", http.StatusForbidden, "FORBIDDEN"},
		{"locked", http.StatusConflict, "LOCKED"},
		{"ordering", http.StatusConflict, "STAGE_ORDER"},
		{"validation", http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"something-else", http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			e := FromViolation(tt.kind, "nope")
			if e.HTTPStatus != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, e.HTTPStatus)
			}
			if e.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, e.Code)
			}
			if e.Message != "nope" {
				t.Errorf("Expected reason as message, got %s", e.Message)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	nf := NotFound("flow", "abc")
	wrapped := Wrap(fmt.Errorf("load: %w", nf), "resume")
	if wrapped.HTTPStatus != http.StatusNotFound {
		t.Errorf("Expected wrapped not found to keep status, got %d", wrapped.HTTPStatus)
	}
	if wrapped.Message != "resume: flow not found" {
		t.Errorf("Unexpected message %q", wrapped.Message)
	}

	plain := Wrap(errors.New("boom"), "save flow")
	if plain.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", plain.HTTPStatus)
	}
	if !errors.Is(plain, plain.Err) {
		t.Error("Expected wrapped error to unwrap")
	}
}

func TestNotFoundDetails(t *testing.T) {
	e := NotFound("certificate", "42")
	if !errors.Is(e, ErrNotFound) {
		t.Error("Expected ErrNotFound")
	}
	if e.Details["id"] != "42" {
		t.Errorf("Expected id detail, got %v", e.Details)
	}
}
