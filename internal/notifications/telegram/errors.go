package telegram

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransportDisabled is returned when sending through a disabled client.
var ErrTransportDisabled = errors.New("telegram transport is disabled")

// RateLimitError is returned on HTTP 429. RetryAfter comes from the API
// response and defaults to one second.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// IsRetryable returns true: the request can be repeated after RetryAfter.
func (e *RateLimitError) IsRetryable() bool { return true }

// PermanentError indicates a request that will fail the same way again,
// such as a blocked bot or an unknown chat.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code == 0 {
		return "telegram request failed: " + e.Message
	}
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// IsRetryable reports whether err is a telegram error worth retrying.
// Errors of other origins are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// GetRetryAfter returns the delay requested by a rate limit error, or zero.
func GetRetryAfter(err error) time.Duration {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.RetryAfter
	}
	return 0
}
