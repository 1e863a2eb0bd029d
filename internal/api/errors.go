// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrAuth        = errors.New("api: authentication failed")
	ErrValidation  = errors.New("api: malformed request rejected")
	ErrCapacity    = errors.New("api: concurrent instance limit exceeded")
	ErrRateLimited = errors.New("api: rate limited")
	ErrUnavailable = errors.New("api: host unreachable or transport failure")
	ErrUpstream    = errors.New("api: internal server error (5xx)")
	ErrBadResponse = errors.New("api: invalid response format or malformed data")
	ErrTimeout     = errors.New("api: request timed out")
)

// APIError is a rich error type that wraps the sentinel errors with context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}

// Transient reports whether the error is worth retrying: timeouts, 5xx
// responses and rate limiting. Auth, validation and capacity failures
// are permanent.
func Transient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrRateLimited)
}

// ErrorClass names the taxonomy bucket of err for logs and metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "unknown"
	}
}
