package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Compilation and registry error codes. These are fatal: a workflow that
// fails to compile never starts executing.
const (
	ErrUnknownSubgraph  ErrorCode = "UNKNOWN_SUBGRAPH"
	ErrGraphCompilation ErrorCode = "GRAPH_COMPILATION"
)

// Stage-local error codes. These are recorded against the failing stage and
// the run continues.
const (
	ErrStageFailure       ErrorCode = "STAGE_FAILURE"
	ErrIterationLimit     ErrorCode = "ITERATION_LIMIT"
	ErrToolExecution      ErrorCode = "TOOL_EXECUTION"
	ErrToolTimeout        ErrorCode = "TOOL_TIMEOUT"
	ErrToolSessionMissing ErrorCode = "TOOL_SESSION_MISSING"
)

// Model provider error codes, mirrored from the transport so the engine can
// classify without importing provider internals.
const (
	ErrProviderAuth        ErrorCode = "PROVIDER_AUTH"
	ErrProviderRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrProviderNetwork     ErrorCode = "PROVIDER_NETWORK"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// Engine-level error codes.
const (
	ErrRunIterationLimit ErrorCode = "RUN_ITERATION_LIMIT"
	ErrRunCancelled      ErrorCode = "RUN_CANCELLED"
	ErrUnknownToken      ErrorCode = "UNKNOWN_TOKEN"
	ErrNotSuspended      ErrorCode = "NOT_SUSPENDED"
	ErrInternal          ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Stage     string    `json:"stage,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStage attributes the error to a stage.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsFatal reports whether the error aborts the whole run rather than a
// single stage. Only compilation-time and run-structural errors qualify.
func IsFatal(err error) bool {
	switch GetErrorCode(err) {
	case ErrUnknownSubgraph, ErrGraphCompilation, ErrInternal:
		return true
	default:
		return false
	}
}
