package connector

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.Limiter with the connector
// contract's semantics: "acquire() suspends until a token is available or
// the caller's timeout elapses". Backed by the vetted token-bucket
// algorithm in golang.org/x/time/rate rather than a hand-rolled,
// wholesale-refilled bucket.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter allowing ratePerSec sustained requests
// with a burst equal to one second's worth (minimum burst of 1).
func NewRateLimiter(ratePerSec float64) *RateLimiter {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Acquire blocks until a token is available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
