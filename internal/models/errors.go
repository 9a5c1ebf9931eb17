package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError for callers and the HTTP layer
type ErrorKind string

const (
	KindValidation             ErrorKind = "validation"
	KindConflict               ErrorKind = "conflict"
	KindNotFound               ErrorKind = "not_found"
	KindUnauthorized           ErrorKind = "unauthorized"
	KindPaymentVerification    ErrorKind = "payment_verification"
	KindInsufficientCredit     ErrorKind = "insufficient_credit"
	KindDatastore              ErrorKind = "datastore"
	KindReconciliationRequired ErrorKind = "reconciliation_required"
)

// AppError is the typed error returned by the booking engine services.
// Code is a stable machine-readable identifier, Message is safe to show to end users.
type AppError struct {
	Kind      ErrorKind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message}
}

// NewConflictError creates a conflict error (slot taken, capacity full, ...)
func NewConflictError(code, message string) *AppError {
	return &AppError{Kind: KindConflict, Code: code, Message: message}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(code, message string) *AppError {
	return &AppError{Kind: KindNotFound, Code: code, Message: message}
}

// NewUnauthorizedError creates an ownership mismatch error
func NewUnauthorizedError(code, message string) *AppError {
	return &AppError{Kind: KindUnauthorized, Code: code, Message: message}
}

// NewInsufficientCreditError creates an insufficient credit error
func NewInsufficientCreditError(message string) *AppError {
	return &AppError{Kind: KindInsufficientCredit, Code: "insufficient_credit", Message: message}
}

// NewPaymentVerificationError wraps a gateway failure. These are always retryable.
func NewPaymentVerificationError(code string, err error) *AppError {
	return &AppError{
		Kind:      KindPaymentVerification,
		Code:      code,
		Message:   "We could not verify the payment right now. Please try again.",
		Retryable: true,
		Err:       err,
	}
}

// NewDatastoreError wraps a storage failure
func NewDatastoreError(err error, retryable bool) *AppError {
	return &AppError{
		Kind:      KindDatastore,
		Code:      "datastore_error",
		Message:   "Something went wrong. Please try again later.",
		Retryable: retryable,
		Err:       err,
	}
}

// NewReconciliationRequiredError marks a payment that succeeded at the
// gateway but could not be recorded against the booking.
func NewReconciliationRequiredError(err error) *AppError {
	return &AppError{
		Kind:    KindReconciliationRequired,
		Code:    "payment_received_pending_confirmation",
		Message: "Your payment was received. Your booking will be confirmed shortly, no further action is needed.",
		Err:     err,
	}
}

// IsKind reports whether err is an AppError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// AsAppError extracts an AppError from the chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
