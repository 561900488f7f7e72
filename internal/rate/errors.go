package rate

import "errors"

// ErrRedisUnavailable wraps any transport or script error from the counter store.
var ErrRedisUnavailable = errors.New("redis unavailable")
