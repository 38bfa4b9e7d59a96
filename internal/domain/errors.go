package domain

import "errors"

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamTransient = errors.New("upstream transient failure")
	ErrUpstreamPermanent = errors.New("upstream permanent failure")
	ErrDedupeSuppressed  = errors.New("duplicate suppressed")
	ErrAlertThrottled    = errors.New("alert throttled")
	ErrInternal          = errors.New("internal error")
)

// IsRetryable reports whether an upstream error should be retried locally.
// Permanent upstream failures and open circuits must surface immediately.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrUpstreamTransient), errors.Is(err, ErrUpstreamTimeout):
		return true
	default:
		return false
	}
}
