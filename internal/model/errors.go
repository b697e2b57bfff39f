package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Error type constants, mirrored into audit entries as error codes.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeConnection         = "connection_error"
	TypeInternalError      = "internal_error"
)

// RemoteError is a classified failure from the remote model API.
type RemoteError struct {
	StatusCode int
	Type       string
	Message    string
	Retryable  bool
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d)", e.Type, e.Message, e.StatusCode)
}

func newRemoteError(statusCode int, message string) *RemoteError {
	e := &RemoteError{StatusCode: statusCode, Message: message}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e.Type = TypeAuthentication
	case statusCode == http.StatusTooManyRequests:
		e.Type = TypeRateLimit
		e.Retryable = true
	case statusCode == http.StatusRequestTimeout:
		e.Type = TypeTimeout
		e.Retryable = true
	case statusCode >= 500:
		e.Type = TypeServiceUnavailable
		e.Retryable = true
	case statusCode >= 400:
		e.Type = TypeInvalidRequest
	default:
		e.Type = TypeInternalError
	}
	return e
}

// IsRetryable reports whether err is a transient remote failure worth retrying.
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsRateLimit reports whether err is a remote rate-limit rejection.
func IsRateLimit(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Type == TypeRateLimit
	}
	return false
}

// ErrorCode extracts the error type for audit records; unknown errors map to internal_error.
func ErrorCode(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Type
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return "parse_error"
	}
	return TypeInternalError
}

// ParseError reports a response that parsed as text but failed the
// structural or invariant checks for its operation kind. It is never retried.
type ParseError struct {
	Kind   Kind
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s response: %s", e.Kind, e.Reason)
}
