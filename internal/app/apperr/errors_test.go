package apperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAs_UnwrapsChain(t *testing.T) {
	t.Parallel()

	base := Conflict("PARTIAL_IMPORT_CONFLICT", "event changed")
	wrapped := fmt.Errorf("import: %w", base)
	ae, ok := As(wrapped)
	if !ok || ae.Status != http.StatusConflict || ae.Code != "PARTIAL_IMPORT_CONFLICT" {
		t.Fatalf("As=%v ok=%v", ae, ok)
	}
	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Fatalf("expected plain error not to match")
	}
}

func TestValidation_Details(t *testing.T) {
	t.Parallel()

	err := Validation("email", "must be non-empty")
	if err.Status != http.StatusUnprocessableEntity || err.Details["email"] != "must be non-empty" {
		t.Fatalf("unexpected error: %+v", err)
	}
	if err.Error() != "invalid email" {
		t.Fatalf("Error()=%q", err.Error())
	}
}
