package retry

import (
	"context"
	"math/rand"
	"time"
)

// Options controls a single Do invocation. No state is retained across calls.
type Options struct {
	// Tries is the total attempt budget, including the first attempt.
	Tries int
	// BaseDelay is the delay before the second attempt; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential delay before jitter is applied.
	MaxDelay time.Duration
	// Jitter is the fraction of random extra delay, e.g. 0.1 for up to +10%.
	Jitter float64
	// Retryable reports whether an error is worth another attempt.
	// A nil Retryable treats every error as retryable.
	Retryable func(error) bool
	// OnRetry is invoked with (attempt, error, delay) before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultOptions returns the retry parameters used for outbound network calls.
func DefaultOptions() Options {
	return Options{
		Tries:     5,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Jitter:    0.1,
	}
}

// Do executes op, retrying retryable failures with exponential backoff until
// the attempt budget is exhausted. A non-retryable failure propagates
// immediately; on exhaustion the last failure propagates. Context cancellation
// interrupts the backoff sleep.
func Do[T any](ctx context.Context, op func() (T, error), opts Options) (T, error) {
	var zero T
	if opts.Tries < 1 {
		opts.Tries = 1
	}

	attempt := 0
	for {
		attempt++
		result, err := op()
		if err == nil {
			return result, nil
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
		if attempt >= opts.Tries {
			return zero, err
		}

		delay := backoffDelay(attempt, opts)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func backoffDelay(attempt int, opts Options) time.Duration {
	delay := opts.BaseDelay << (attempt - 1)
	if delay > opts.MaxDelay || delay <= 0 {
		delay = opts.MaxDelay
	}
	if opts.Jitter > 0 {
		delay = time.Duration(float64(delay) * (1 + rand.Float64()*opts.Jitter))
	}
	return delay
}
