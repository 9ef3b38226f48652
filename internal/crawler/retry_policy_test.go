package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingClock struct {
	sleeps []time.Duration
}

func (c *countingClock) Now() time.Time { return time.Unix(0, 0) }

func (c *countingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return ctx.Err()
}

func TestRetry_FixedPolicyRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	clock := &countingClock{}
	calls := 0
	var notified []int
	attempts, err := Retry(context.Background(), NewFixedRetryPolicy(5*time.Second), clock,
		func(attempt int, _ error, _ time.Duration) { notified = append(notified, attempt) },
		func(context.Context) error {
			calls++
			if calls <= 3 {
				return errors.New("status 503")
			}
			return nil
		})

	require.NoError(t, err)
	require.Equal(t, 4, attempts)
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.sleeps)
	require.Equal(t, []int{1, 2, 3}, notified)
}

func TestRetry_NotFoundStopsImmediately(t *testing.T) {
	t.Parallel()

	clock := &countingClock{}
	attempts, err := Retry(context.Background(), NewFixedRetryPolicy(time.Second), clock, nil,
		func(context.Context) error { return fmt.Errorf("package x: %w", ErrNotFound) })

	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, attempts)
	require.Empty(t, clock.sleeps)
}

func TestRetry_MalformedIsNotRetried(t *testing.T) {
	t.Parallel()

	clock := &countingClock{}
	_, err := Retry(context.Background(), NewFixedRetryPolicy(time.Second), clock, nil,
		func(context.Context) error { return fmt.Errorf("zip: %w", ErrMalformed) })

	require.ErrorIs(t, err, ErrMalformed)
	require.Empty(t, clock.sleeps)
}

func TestRetry_CanceledContextAbortsSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts, err := Retry(ctx, NewFixedRetryPolicy(time.Second), &countingClock{}, nil,
		func(context.Context) error { return errors.New("connection reset") })

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(100*time.Millisecond, time.Second, 3)
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3))
	require.False(t, p.ShouldRetry(ErrNotFound, 1))
	require.False(t, p.ShouldRetry(nil, 1))

	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, time.Second)
	}

	unbounded := NewExponentialRetryPolicy(time.Millisecond, time.Millisecond, 0)
	require.True(t, unbounded.ShouldRetry(errors.New("boom"), 1000))
}
