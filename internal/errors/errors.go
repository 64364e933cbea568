// Package errors provides the typed error taxonomy shared by the approval
// service layers. Every error returned across a package boundary is an *Error
// carrying a stable Code that handlers map to transport status codes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	ErrCodeMissingDepartment    Code = "MISSING_DEPARTMENT"
	ErrCodeApprovalNotPending   Code = "APPROVAL_NOT_PENDING"
	ErrCodeOutOfOrder           Code = "OUT_OF_ORDER"
	ErrCodeNotEligible          Code = "NOT_ELIGIBLE"
	ErrCodeForbidden            Code = "FORBIDDEN"
	ErrCodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
	ErrCodeValidation           Code = "VALIDATION_ERROR"
	ErrCodeStorageFailure       Code = "STORAGE_FAILURE"
	ErrCodeNotFound             Code = "NOT_FOUND"
	ErrCodeInvalidState         Code = "INVALID_STATE"
	ErrCodeUnauthorized         Code = "UNAUTHORIZED"
	ErrCodeInternal             Code = "INTERNAL"
)

// Error is the concrete error type used throughout the service.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so callers can write
// errors.Is(err, errors.ErrApprovalNotPending).
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether repeating the same call may succeed. A lost
// approval race is terminal: somebody else already acted on the step.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrCodeStorageFailure, ErrCodeInternal:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingDepartment    = &Error{Code: ErrCodeMissingDepartment}
	ErrApprovalNotPending   = &Error{Code: ErrCodeApprovalNotPending}
	ErrOutOfOrder           = &Error{Code: ErrCodeOutOfOrder}
	ErrNotEligible          = &Error{Code: ErrCodeNotEligible}
	ErrForbidden            = &Error{Code: ErrCodeForbidden}
	ErrConfirmationRequired = &Error{Code: ErrCodeConfirmationRequired}
	ErrValidation           = &Error{Code: ErrCodeValidation}
	ErrStorageFailure       = &Error{Code: ErrCodeStorageFailure}
	ErrNotFound             = &Error{Code: ErrCodeNotFound}
	ErrInvalidState         = &Error{Code: ErrCodeInvalidState}
	ErrUnauthorized         = &Error{Code: ErrCodeUnauthorized}
)

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. Wrapping an *Error
// keeps the original code so classification survives repository layers.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if stderrors.As(err, &existing) {
		return err
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Field: field, Message: message}
}

// CodeOf returns the code of err, or ErrCodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// As is re-exported so callers importing this package under its own name do
// not also need the standard library package.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is is re-exported for the same reason as As.
func Is(err, target error) bool { return stderrors.Is(err, target) }
