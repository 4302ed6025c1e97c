package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var observed []time.Duration

	opts := Options{
		Tries:     5,
		BaseDelay: time.Millisecond,
		MaxDelay:  4 * time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			assert.Equal(t, calls, attempt)
			assert.Equal(t, errTransient, err)
			observed = append(observed, delay)
		},
	}

	result, err := Do(context.Background(), func() (string, error) {
		calls++
		if calls <= 4 {
			return "", errTransient
		}
		return "ok", nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 5, calls)
	require.Len(t, observed, 4)

	// Delays are non-decreasing and capped at MaxDelay (jitter disabled).
	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1])
	}
	assert.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, observed)
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func() (int, error) {
		calls++
		return 0, errTransient
	}, Options{Tries: 3, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	errFatal := errors.New("fatal")
	calls := 0

	_, err := Do(context.Background(), func() (int, error) {
		calls++
		return 0, errFatal
	}, Options{
		Tries:     5,
		BaseDelay: time.Microsecond,
		MaxDelay:  time.Microsecond,
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, func() (int, error) {
		return 0, errTransient
	}, Options{Tries: 5, BaseDelay: time.Minute, MaxDelay: time.Minute})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoNoRetryOnSuccess(t *testing.T) {
	retries := 0
	result, err := Do(context.Background(), func() (int, error) {
		return 42, nil
	}, Options{Tries: 5, OnRetry: func(int, error, time.Duration) { retries++ }})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Zero(t, retries)
}
