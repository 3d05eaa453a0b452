// Package backoff provides delay schedules for retry.
package backoff

import (
	"math"
	"time"
)

// Strategy returns how long to wait after the given attempt. Attempts start at 1.
type Strategy func(attempts uint) time.Duration

// Constant always waits interval.
func Constant(interval time.Duration) Strategy {
	return func(uint) time.Duration {
		return interval
	}
}

// Linear waits baseDelay * attempts.
func Linear(baseDelay time.Duration) Strategy {
	return func(attempts uint) time.Duration {
		return saturate(float64(baseDelay) * float64(attempts))
	}
}

// Exponential waits baseDelay * base^(attempts-1).
func Exponential(baseDelay time.Duration, base float64) Strategy {
	return func(attempts uint) time.Duration {
		return saturate(float64(baseDelay) * math.Pow(base, float64(attempts-1)))
	}
}

// BinaryExponential is Exponential with a base of 2.
func BinaryExponential(baseDelay time.Duration) Strategy {
	return Exponential(baseDelay, 2)
}

func saturate(d float64) time.Duration {
	if d < 0 || d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(d)
}
