package rate

import "errors"

var (
	// ErrRateLimited is returned by Check when the identifier has no attempts left.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidCapacity is returned by New for a non-positive hourly budget.
	ErrInvalidCapacity = errors.New("rate limit capacity must be positive")
)
