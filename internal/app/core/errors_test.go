package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("listing", "l-1")
	if !IsNotFound(err) {
		t.Fatal("IsNotFound = false")
	}
	wrapped := WrapServiceError("settlement", "Acquire", err)
	if !IsNotFound(wrapped) {
		t.Fatal("classification lost through WrapServiceError")
	}
	if IsConflict(err) {
		t.Fatal("not-found must not classify as conflict")
	}
}

func TestConflictErrorCarriesCode(t *testing.T) {
	err := NewConflictError(CodeOutOfStock, "listing", "l-1", "insufficient stock")
	if !IsConflict(err) {
		t.Fatal("IsConflict = false")
	}
	if ConflictCode(err) != CodeOutOfStock {
		t.Fatalf("code = %q, want %q", ConflictCode(err), CodeOutOfStock)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if ConflictCode(wrapped) != CodeOutOfStock {
		t.Fatal("code lost through wrapping")
	}
	if ConflictCode(errors.New("plain")) != "" {
		t.Fatal("plain error must have no conflict code")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError(CodeBadClaimToken, "claim token", "does not match")
	if !IsValidationError(err) {
		t.Fatal("IsValidationError = false")
	}

	req := RequiredError("wallet address")
	if !IsValidationError(req) {
		t.Fatal("RequiredError must classify as validation")
	}
	if req.Error() != "wallet address is required" {
		t.Fatalf("message = %q", req.Error())
	}
}

func TestUnreconciledError(t *testing.T) {
	cause := errors.New("db down")
	err := NewUnreconciledError("paybridge.fulfillAndCapture", "fulfilled but capture failed", cause)
	if !IsUnreconciled(err) {
		t.Fatal("IsUnreconciled = false")
	}
	if IsConflict(err) || IsNotFound(err) {
		t.Fatal("unreconciled must not classify as conflict or not-found")
	}
}

func TestWrapServiceErrorNil(t *testing.T) {
	if WrapServiceError("svc", "op", nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}
