package ratelimit

import "errors"

var (
	// ErrRateLimited is returned with a Decision whose Allowed is false.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned by fail-closed policies when Redis cannot be reached.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidPolicy is returned for policies with a missing name, window or max.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
