// Package ratelimit paces session spawns and follows a load profile's
// phases over time.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter gates session spawns. A rate of 0 means unlimited. Safe for
// concurrent use; SetRate takes effect for waiters that arrive after it.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows perSecond spawns per second with a burst of one
// second's worth.
func NewRateLimiter(perSecond int) *RateLimiter {
	limit, burst := settings(perSecond)
	return &RateLimiter{lim: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a spawn is allowed or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error { return r.lim.Wait(ctx) }

func (r *RateLimiter) SetRate(perSecond int) {
	limit, burst := settings(perSecond)
	r.lim.SetBurst(burst)
	r.lim.SetLimit(limit)
}

func (r *RateLimiter) Rate() int {
	if l := r.lim.Limit(); l != rate.Inf {
		return int(l)
	}
	return 0
}

func settings(perSecond int) (rate.Limit, int) {
	if perSecond <= 0 {
		return rate.Inf, 1
	}
	return rate.Limit(perSecond), perSecond
}
