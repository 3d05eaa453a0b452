package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/code-payments/counter-program/pkg/retry/backoff"
)

// Strategy decides whether an action that failed should run again. Strategies
// may sleep before answering.
type Strategy func(attempts uint, err error) bool

// Limit caps the total number of attempts, including the first one.
func Limit(maxAttempts uint) Strategy {
	return func(attempts uint, _ error) bool {
		return attempts < maxAttempts
	}
}

// RetriableErrors only allows a retry when err matches one of the provided errors.
func RetriableErrors(retriableErrors ...error) Strategy {
	return func(_ uint, err error) bool {
		return matchesAny(err, retriableErrors)
	}
}

// NonRetriableErrors stops retrying when err matches one of the provided errors.
func NonRetriableErrors(nonRetriableErrors ...error) Strategy {
	return func(_ uint, err error) bool {
		return !matchesAny(err, nonRetriableErrors)
	}
}

// Cancelled stops retrying once ctx is done.
func Cancelled(ctx context.Context) Strategy {
	return func(_ uint, _ error) bool {
		return ctx.Err() == nil
	}
}

// Backoff sleeps for the delay given by strategy, capped at maxBackoff.
func Backoff(strategy backoff.Strategy, maxBackoff time.Duration) Strategy {
	return func(attempts uint, _ error) bool {
		sleeperImpl.Sleep(capped(strategy(attempts), maxBackoff))
		return true
	}
}

// BackoffWithJitter behaves like Backoff, but shifts each capped delay by up to
// +/- jitter (a fraction of the delay).
func BackoffWithJitter(strategy backoff.Strategy, maxBackoff time.Duration, jitter float64) Strategy {
	return func(attempts uint, _ error) bool {
		delay := capped(strategy(attempts), maxBackoff)
		offset := rand.Float64()*jitter*2 - jitter
		sleeperImpl.Sleep(time.Duration(float64(delay) * (1 + offset)))
		return true
	}
}

func capped(delay, maxDelay time.Duration) time.Duration {
	return time.Duration(math.Min(float64(maxDelay), float64(delay)))
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type sleeper interface {
	Sleep(time.Duration)
}

type realSleeper struct{}

func (r *realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

var sleeperImpl sleeper = &realSleeper{}
