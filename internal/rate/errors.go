package rate

import "errors"

var (
	// ErrRateLimited reports a counter over its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
