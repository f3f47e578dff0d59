package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"      // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized" // Authentication required
	EFORBIDDEN    = "forbidden"    // Permission denied
	ENOTFOUND     = "not_found"    // Resource not found
	EINTERNAL     = "internal"     // Internal server error
	ERATELIMIT    = "rate_limit"   // Too many send attempts in a short window

	// Entitlement engine codes
	ENOIDENTITY  = "no_identity"       // No authenticated user; no I/O was performed
	EFETCH       = "fetch_failure"     // Profile, subscription or usage read failed
	EINCREMENT   = "increment_failure" // Atomic usage increment failed; nothing was debited
	EQUOTA       = "quota_exhausted"   // Daily free allowance used up
	EUNAVAILABLE = "unavailable"       // Entitlement not loaded yet or session cleared
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "quota.increment")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// RateLimit creates a rate limit error.
func RateLimit(op string) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: "Too many requests. Please try again later.",
	}
}

// NoIdentity is returned when an entitlement operation runs without a user.
func NoIdentity(op string) *Error {
	return &Error{
		Code:    ENOIDENTITY,
		Op:      op,
		Message: "No authenticated user",
	}
}

// FetchFailure wraps a failed read of profile, subscription or usage facts.
// It is logged and absorbed into the fail-closed fallback, never returned
// from a read-side operation.
func FetchFailure(err error, op, what string) *Error {
	return &Error{
		Code:    EFETCH,
		Op:      op,
		Message: fmt.Sprintf("failed to fetch %s", what),
		Err:     err,
	}
}

// IncrementFailure wraps a failed atomic increment. The caller must not
// treat the message as sent.
func IncrementFailure(err error, op string) *Error {
	return &Error{
		Code:    EINCREMENT,
		Op:      op,
		Message: "Could not record message usage. Please try again.",
		Err:     err,
	}
}

// QuotaExhausted creates an error for a send attempt past the daily allowance.
func QuotaExhausted(op string, used, limit int) *Error {
	return &Error{
		Code:    EQUOTA,
		Op:      op,
		Message: fmt.Sprintf("Daily message limit reached (%d of %d used)", used, limit),
	}
}

// Unavailable creates an error for operations attempted before the
// entitlement snapshot is ready or after the session was cleared.
func Unavailable(op, message string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: message,
	}
}
