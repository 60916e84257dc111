package ratelimiter

import (
	"fmt"
	"time"
)

// RateLimiter decides whether a call may proceed right now.
// Allow never blocks; a false result means the call is rejected without I/O.
type RateLimiter interface {
	Allow() bool
}

// Algorithm names accepted by New.
const (
	AlgorithmTokenBucket = "tokenBucket"
	AlgorithmFixedWindow = "fixedWindow"
)

// Settings selects and configures an algorithm.
type Settings struct {
	Algorithm string
	// Rate and Capacity configure the token bucket.
	Rate     float64
	Capacity int
	// Limit and Window configure the fixed window counter.
	Limit  int
	Window time.Duration
}

// New builds a limiter from settings. An empty algorithm means token bucket.
func New(s Settings) (RateLimiter, error) {
	switch s.Algorithm {
	case "", AlgorithmTokenBucket:
		if s.Rate <= 0 || s.Capacity <= 0 {
			return nil, fmt.Errorf("token bucket requires positive rate and capacity")
		}
		return NewTokenBucket(s.Rate, s.Capacity), nil
	case AlgorithmFixedWindow:
		if s.Limit <= 0 || s.Window <= 0 {
			return nil, fmt.Errorf("fixed window requires positive limit and window")
		}
		return NewFixedWindowCounter(s.Limit, s.Window), nil
	default:
		return nil, fmt.Errorf("unsupported rate limiter algorithm: %s", s.Algorithm)
	}
}
