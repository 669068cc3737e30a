package middleware

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	burstLimit = 10
	refillRate = 200 * time.Millisecond
)

// RateLimiter is a per-connection token bucket: burst events at once, one
// more every refill interval.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRatelimiter(burst int, refill time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = burstLimit
	}
	if refill <= 0 {
		refill = refillRate
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(refill), burst),
	}
}

func (l *RateLimiter) Allow() bool {
	return l.limiter.Allow()
}

func (l *RateLimiter) allowAt(t time.Time) bool {
	return l.limiter.AllowN(t, 1)
}
