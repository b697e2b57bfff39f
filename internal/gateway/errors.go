package gateway

import "errors"

// Sentinel errors returned by Invoke. Handlers map these onto HTTP statuses.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDisabled          = errors.New("ai features disabled")
	ErrRateLimited       = errors.New("rate limited")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRemoteUnavailable = errors.New("model service unavailable")
	ErrInvalidResponse   = errors.New("invalid model response")
)
