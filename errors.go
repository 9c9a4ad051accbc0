package mcpdesk

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidationReject  = "VALIDATION_REJECTED"
	ErrCodeArgResolution     = "ARGUMENT_RESOLUTION_ERROR"
	ErrCodePlanGeneration    = "PLAN_GENERATION_ERROR"
	ErrCodeSynthesis         = "SYNTHESIS_ERROR"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeCancelled         = "EXECUTION_CANCELLED"
	ErrCodeTimeout           = "ORCHESTRATION_TIMEOUT"
	ErrCodeCache             = "CACHE_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeLanguageModel     = "LANGUAGE_MODEL_ERROR"
	ErrCodeExpressionFailure = "EXPRESSION_ERROR"
)

// Error is the structured error type used across the pipeline.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodePlanGeneration)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "planning", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// Specific error constructors

// NewValidationRejection wraps a rule violation so it can travel as an error.
func NewValidationRejection(v *RuleViolation) *Error {
	return NewError(ErrCodeValidationReject, "validation", "plan rejected", v)
}

func NewArgResolutionError(stage string, step int, argName string, cause error) *Error {
	msg := fmt.Sprintf("failed to resolve argument '%s' for step %d", argName, step)
	return NewError(ErrCodeArgResolution, stage, msg, cause)
}

// NewPlanningError is the request-fatal error raised when no plan can be formed.
func NewPlanningError(message string, cause error) *Error {
	return NewError(ErrCodePlanGeneration, "planning", message, cause)
}

func NewSynthesisError(cause error) *Error {
	return NewError(ErrCodeSynthesis, "synthesis", "failed to synthesize final answer", cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

// NewTimeoutError is the whole-request deadline error.
func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "request timed out", cause)
}

func NewCacheError(stage, operation string, cause error) *Error {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

func NewInvalidRequestError(message string) *Error {
	return NewError(ErrCodeInvalidRequest, "init", message, nil)
}

func NewLanguageModelError(provider string, cause error) *Error {
	return NewError(ErrCodeLanguageModel, "llm", fmt.Sprintf("%s call failed", provider), cause)
}
