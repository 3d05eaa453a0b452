// Package rate limits operations per key.
package rate

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter limits operations based on a provided key.
type Limiter interface {
	Allow(key string) bool
}

type localRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter returns an in memory limiter allowing limit operations per
// second for each key, in bursts of up to burst. A burst below 1 defaults to the
// rounded up limit.
func NewLocalRateLimiter(limit rate.Limit, burst int) Limiter {
	if burst < 1 {
		burst = int(limit)
		if rate.Limit(burst) < limit || burst < 1 {
			burst++
		}
	}

	return &localRateLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements Limiter.Allow.
func (l *localRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// NoLimiter never limits operations
type NoLimiter struct {
}

// Allow implements Limiter.Allow.
func (n *NoLimiter) Allow(_ string) bool {
	return true
}
