package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
)

// ErrorType classifies LLM failures.
type ErrorType string

const (
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeEndpoint        ErrorType = "endpoint"
	ErrorTypeInvalidResponse ErrorType = "invalid_response"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error is a structured LLM error with classification.
type Error struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause and the matching taxonomy sentinel so
// callers can use errors.Is without knowing the provider.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Type {
	case ErrorTypeTimeout:
		errs = append(errs, apperrors.ErrLLMTimeout)
	case ErrorTypeInvalidResponse:
		errs = append(errs, apperrors.ErrLLMInvalidResponse)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{Type: errType, Message: message, Retryable: retryable, Cause: cause}
}

// ClassifyError categorizes a provider error into a structured Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeTimeout, "request deadline exceeded", true, err)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return NewError(ErrorTypeTimeout, "request timeout", true, err)
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key"):
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "404"):
		return NewError(ErrorTypeEndpoint, "endpoint unreachable", false, err)
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return NewError(ErrorTypeEndpoint, "rate limited", true, err)
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504"):
		return NewError(ErrorTypeEndpoint, "server error", true, err)
	default:
		return NewError(ErrorTypeUnknown, "llm error", false, err)
	}
}

// IsTimeout reports whether the error is a classified timeout.
func IsTimeout(err error) bool {
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.Type == ErrorTypeTimeout
}
