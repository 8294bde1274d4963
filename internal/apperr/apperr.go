// Package apperr classifies task failures as retryable or permanent.
package apperr

import (
	"errors"
	"fmt"
)

// Codes used across the pipeline.
const (
	CodeMalformedOutput = "MALFORMED_OUTPUT"
	CodeUpstream        = "UPSTREAM_UNAVAILABLE"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeNotFound        = "NOT_FOUND"
)

// Error carries a code and a retry classification alongside the cause.
type Error struct {
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Permanent marks a failure that will not succeed on retry.
func Permanent(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Transient marks a failure that may succeed on a later attempt.
func Transient(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Retryable: true}
}

// IsRetryable reports whether err should be retried. Errors that were not
// classified are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
