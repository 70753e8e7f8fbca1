// Package core defines the error taxonomy shared by the settlement services.
// Callers branch on the classification helpers, never on message text.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the broad failure classes.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("temporarily unavailable")
	ErrUnreconciled = errors.New("unreconciled state")
)

// Conflict and validation codes carried by typed errors.
const (
	CodeOutOfStock        = "OUT_OF_STOCK"
	CodeAlreadyProcessing = "ALREADY_PROCESSING"
	CodeAlreadyHandled    = "ALREADY_HANDLED"
	CodeAlreadyClaimed    = "ALREADY_CLAIMED"
	CodeBadClaimToken     = "BAD_CLAIM_TOKEN"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeBadAddress        = "BAD_ADDRESS"
)

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ConflictError reports a state conflict, tagged with a machine-readable
// code.
type ConflictError struct {
	Code     string
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s %s: %s", e.Code, e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError constructs a ConflictError.
func NewConflictError(code, resource, id, reason string) *ConflictError {
	return &ConflictError{Code: code, Resource: resource, ID: id, Reason: reason}
}

// IsConflict reports whether err is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ConflictCode returns the conflict code carried by err, or "".
func ConflictCode(err error) string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ValidationError reports rejected input. Code is optional.
type ValidationError struct {
	Code   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s %s", e.Code, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError constructs a ValidationError.
func NewValidationError(code, field, reason string) *ValidationError {
	return &ValidationError{Code: code, Field: field, Reason: reason}
}

// IsValidationError reports whether err is rejected input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// RequiredError is the common missing-field validation error.
func RequiredError(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

// UnreconciledError reports a settlement that diverged across systems and
// needs manual remediation. It is never retried automatically.
type UnreconciledError struct {
	Op     string
	Detail string
	Cause  error
}

func (e *UnreconciledError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Detail, e.Cause)
}

func (e *UnreconciledError) Unwrap() error { return ErrUnreconciled }

// NewUnreconciledError constructs an UnreconciledError.
func NewUnreconciledError(op, detail string, cause error) *UnreconciledError {
	return &UnreconciledError{Op: op, Detail: detail, Cause: cause}
}

// IsUnreconciled reports whether err requires manual remediation.
func IsUnreconciled(err error) bool {
	return errors.Is(err, ErrUnreconciled)
}

// WrapServiceError annotates err with the service and operation that raised
// it, preserving the classification chain. Nil passes through.
func WrapServiceError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %w", service, op, err)
}
