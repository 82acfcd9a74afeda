// Package ratelimit bounds outbound market-data requests with a token bucket.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a blocking acquire cannot obtain tokens
// before its deadline. Callers should back off and retry on a later cycle.
var ErrRateLimited = errors.New("rate limited")

// Limiter is a token-bucket rate limiter. Refill is computed lazily on each
// call and never exceeds the burst capacity; acquisition is atomic under
// concurrent callers.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a limiter allowing rps requests per second with the given
// burst capacity.
func New(rps float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Acquire attempts to take n tokens without blocking. It never errors on an
// exhausted bucket; it reports false.
func (l *Limiter) Acquire(n int) bool {
	return l.lim.AllowN(time.Now(), n)
}

// WaitAcquire blocks until n tokens are available or ctx expires, in which
// case it returns ErrRateLimited.
func (l *Limiter) WaitAcquire(ctx context.Context, n int) error {
	if err := l.lim.WaitN(ctx, n); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// Tokens reports the tokens currently available.
func (l *Limiter) Tokens() float64 {
	return l.lim.Tokens()
}

// SetRPS updates the refill rate.
func (l *Limiter) SetRPS(rps float64) {
	l.lim.SetLimit(rate.Limit(rps))
}

// SetBurst updates the burst capacity.
func (l *Limiter) SetBurst(burst int) {
	l.lim.SetBurst(burst)
}
