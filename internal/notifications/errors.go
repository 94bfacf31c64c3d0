package notifications

import (
	"errors"
	"fmt"
)

// Queue and router errors.
var (
	ErrItemNotFound      = errors.New("queue item not found")
	ErrInvalidTransition = errors.New("invalid queue status transition")
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	ErrQueueOverloaded   = errors.New("notification queue is overloaded")
	ErrNoHandlers        = errors.New("no channel handlers registered")
)

// ValidationError reports a malformed payload or address.
// It is returned to the caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// IsRetryable returns false: bad input stays bad.
func (e *ValidationError) IsRetryable() bool { return false }

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// isRetryable checks if an error is retryable.
// Errors that do not say otherwise are treated as transient.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// ResultFromError builds a failed ChannelSendResult from err using its
// retryability.
func ResultFromError(err error) ChannelSendResult {
	return ChannelSendResult{
		Success:     false,
		Err:         err,
		ShouldRetry: isRetryable(err),
	}
}
