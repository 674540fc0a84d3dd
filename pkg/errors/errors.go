// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for
// QueryGuard. Errors carry a classification code so logging and metrics can
// aggregate by failure class without string matching.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies QueryGuard errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConfig indicates a malformed or unreadable policy document.
	// Recovered locally: the policy store substitutes the fail-safe
	// policy and logs the cause.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodePatternFault indicates a pattern could not be compiled or
	// evaluated; the pattern is treated as a non-match.
	CodePatternFault ErrorCode = "PATTERN_FAULT"

	// CodeAuditSink indicates the audit sink rejected an event. Never
	// propagated to the caller of the guarded operation.
	CodeAuditSink ErrorCode = "AUDIT_SINK_ERROR"

	// CodeExec indicates the search execution collaborator failed.
	CodeExec ErrorCode = "EXEC_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates the per-policy search rate was exceeded.
	CodeRateLimit ErrorCode = "RATE_LIMITED"
)

// GuardError is a typed error with context for observability. It implements
// the error interface and can be unwrapped with errors.As().
type GuardError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *GuardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *GuardError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *GuardError) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Context:     e.Context,
	})
}

// New creates a new GuardError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *GuardError {
	return &GuardError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *GuardError) WithContext(key string, value interface{}) *GuardError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *GuardError) WithRecoverable(recoverable bool) *GuardError {
	e.Recoverable = recoverable
	return e
}

// AsGuardError attempts to convert an error to a GuardError.
// Returns the error as GuardError if it is one, or wraps it otherwise.
func AsGuardError(err error) *GuardError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GuardError); ok {
		return ge
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the classification code of err, or CodeInternal for
// untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if ge, ok := err.(*GuardError); ok {
		return ge.Code
	}
	return CodeInternal
}
