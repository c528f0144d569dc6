package stepwise

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for the few failures the planner surfaces.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeDocument      = "DOCUMENT_ERROR"
	ErrCodeUnknownTool   = "UNKNOWN_TOOL"
	ErrCodeNoCandidate   = "NO_CANDIDATE"
	ErrCodeCancelled     = "PLANNING_CANCELLED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// Error is a coded planner error.
type Error struct {
	Code    string // machine-readable, one of the ErrCode constants
	Message string
	Stage   string // e.g. "analyzing", "routing"
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{Code: code, Stage: stage, Message: message, Cause: cause}
}

func NewValidationError(stage, message string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewDocumentError(path string, cause error) *Error {
	return NewError(ErrCodeDocument, "loading", fmt.Sprintf("cannot load document %s", path), cause)
}

func NewUnknownToolError(stage, tool string) *Error {
	return NewError(ErrCodeUnknownTool, stage, fmt.Sprintf("tool %q is not registered", tool), nil)
}

func NewNoCandidateError(capability string, cause error) *Error {
	return NewError(ErrCodeNoCandidate, "routing", fmt.Sprintf("no tool satisfies capability %q", capability), cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "planning cancelled"
	if cause != nil && !errors.Is(cause, context.Canceled) {
		msg = fmt.Sprintf("planning cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// HasCode reports whether err wraps an *Error with code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
