package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("submit response: %w", apperr.Validation("content item %d has no knowledge component", 7))

	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatal("errors.Is(err, ErrValidation) = false, want true")
	}
	if errors.Is(err, apperr.ErrNotFound) {
		t.Error("validation error should not match ErrNotFound")
	}

	var verr *apperr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatal("errors.As should find *ValidationError")
	}
	if verr.Msg != "content item 7 has no knowledge component" {
		t.Errorf("Msg = %q", verr.Msg)
	}
}

func TestValidationError_Fields(t *testing.T) {
	err := &apperr.ValidationError{
		Msg:    "invalid request",
		Fields: []apperr.FieldError{{Field: "content_item_id", Message: "is required"}},
	}
	want := "invalid request: content_item_id: is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNotFound(t *testing.T) {
	err := apperr.NotFound("content item", 42)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatal("NotFound() should wrap ErrNotFound")
	}
	if err.Error() != "content item 42: not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}
