// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Larder.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Larder errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidArguments indicates tool arguments failed schema validation.
	CodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"

	// CodeUnknownTool indicates a tool name is not registered.
	CodeUnknownTool ErrorCode = "UNKNOWN_TOOL"

	// CodeDuplicateTool indicates a tool name is already registered.
	CodeDuplicateTool ErrorCode = "DUPLICATE_TOOL"

	// CodeToolFailure indicates a tool handler failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodePolicyDenied indicates the safety policy denied an action.
	// Non-retryable and terminal for that tool call.
	CodePolicyDenied ErrorCode = "POLICY_DENIED"

	// CodeApprovalRequired indicates a mutating/financial action needs a
	// human approval token. A valid outcome, not a system failure.
	CodeApprovalRequired ErrorCode = "APPROVAL_REQUIRED"

	// CodeCollaborator wraps a failure from an external collaborator
	// (store, vendor, approval channel).
	CodeCollaborator ErrorCode = "COLLABORATOR_ERROR"

	// CodeStoreError indicates an inventory store error.
	CodeStoreError ErrorCode = "STORE_ERROR"

	// CodeLLMError indicates a model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// LarderError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type LarderError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *LarderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *LarderError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *LarderError) MarshalJSON() ([]byte, error) {
	type payload struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Err         string         `json:"error,omitempty"`
		Recoverable bool           `json:"recoverable"`
		Context     map[string]any `json:"context,omitempty"`
	}
	p := payload{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		Context:     e.Context,
	}
	if e.Err != nil {
		p.Err = e.Err.Error()
	}
	return json.Marshal(p)
}

// New creates a new LarderError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *LarderError {
	return &LarderError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *LarderError) WithContext(key string, value interface{}) *LarderError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *LarderError) WithRecoverable(recoverable bool) *LarderError {
	e.Recoverable = recoverable
	return e
}

// AsLarderError attempts to convert an error to a LarderError.
// Returns the error as LarderError if it is one, or wraps it otherwise.
func AsLarderError(err error) *LarderError {
	if err == nil {
		return nil
	}
	if le, ok := err.(*LarderError); ok {
		return le
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the error code of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if le, ok := err.(*LarderError); ok {
		return le.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether err is a LarderError marked recoverable.
// Untyped errors are not considered recoverable.
func IsRecoverable(err error) bool {
	if le, ok := err.(*LarderError); ok {
		return le.Recoverable
	}
	return false
}
