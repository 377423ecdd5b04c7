package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"            // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized"       // Authentication required
	EFORBIDDEN    = "forbidden"          // Permission denied
	ENOTFOUND     = "not_found"          // Resource not found
	ECONFLICT     = "conflict"           // Concurrent modification retries exhausted
	EQUOTA        = "quota_exhausted"    // Scan quota exhausted
	ENOVERSION    = "no_current_version" // Plan has no published version
	ENOPLAN       = "no_assigned_plan"   // Tenant has no plan bound
	EINTERNAL     = "internal"           // Internal server error
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "quota.consume")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
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
		// For internal errors, return generic message
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

// Convenience constructors for common error types

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

// Conflict creates an error for a conditional write that kept losing to
// concurrent writers. Callers should treat it as a transient failure.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// NoCurrentVersion indicates a plan that has never had a version published.
func NoCurrentVersion(op, planID string) *Error {
	return &Error{
		Code:    ENOVERSION,
		Op:      op,
		Message: fmt.Sprintf("plan %q has no published version", planID),
	}
}

// NoAssignedPlan indicates a tenant with no plan version bound.
func NoAssignedPlan(op, tenantID string) *Error {
	return &Error{
		Code:    ENOPLAN,
		Op:      op,
		Message: fmt.Sprintf("tenant %q has no assigned plan", tenantID),
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
