package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so clones and wraps of a predefined error compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Enrollment engine errors.
var (
	ErrPeriodClosed                 = New("PERIOD_CLOSED", http.StatusForbidden, "registration is not open for this student")
	ErrAlreadyEnrolled              = New("ALREADY_ENROLLED", http.StatusConflict, "student already holds an enrollment in this course")
	ErrPrerequisiteNotMet           = New("PREREQUISITE_NOT_MET", http.StatusUnprocessableEntity, "course prerequisites not met")
	ErrAcademicStandingInsufficient = New("ACADEMIC_STANDING_INSUFFICIENT", http.StatusUnprocessableEntity, "academic standing does not permit enrollment")
	ErrCreditLimitExceeded          = New("CREDIT_LIMIT_EXCEEDED", http.StatusUnprocessableEntity, "credit limit exceeded")
	ErrScheduleConflict             = New("SCHEDULE_CONFLICT", http.StatusUnprocessableEntity, "schedule conflicts with an active enrollment")
	ErrRateLimited                  = New("RATE_LIMITED", http.StatusTooManyRequests, "rate limit exceeded")
	ErrCartFull                     = New("CART_FULL", http.StatusUnprocessableEntity, "cart is full")
	ErrAlreadyInCart                = New("ALREADY_IN_CART", http.StatusConflict, "course already in cart")
	ErrNotInCart                    = New("NOT_IN_CART", http.StatusNotFound, "course not in cart")
	ErrNotEnrolled                  = New("NOT_ENROLLED", http.StatusNotFound, "student is not enrolled in this course")
	ErrInternalInconsistency        = New("INTERNAL_INCONSISTENCY", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Inconsistency reports a violated engine invariant. The detail is kept for logs only.
func Inconsistency(format string, args ...interface{}) *Error {
	return Wrap(fmt.Errorf(format, args...), ErrInternalInconsistency.Code, ErrInternalInconsistency.Status, ErrInternalInconsistency.Message)
}
