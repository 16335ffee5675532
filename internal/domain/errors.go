package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrTransient          = errors.New("transient failure")
	ErrOrderRejected      = errors.New("order rejected")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrBreakerEngaged     = errors.New("circuit breaker engaged")
	ErrStorageUnavailable = errors.New("persistent storage unavailable")
	ErrStaleQuote         = errors.New("stale quote")
	ErrLockHeld           = errors.New("lock already held")
	ErrWalkExhausted      = errors.New("price walk exhausted without fill")
)

// IsTransient reports whether err should be retried with backoff rather than
// surfaced. Rate limiting and momentary network/API failures qualify;
// exchange-side rejections never do.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// IsRejection reports whether err is a business-rule rejection from the
// exchange that must not be retried with the same parameters.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOrderRejected) || errors.Is(err, ErrInsufficientFunds)
}
