package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Default fixed delays between attempts.
const (
	DefaultMetadataRetryDelay = 5 * time.Second
	DefaultArtifactRetryDelay = 10 * time.Second
)

// FixedRetryPolicy retries every transient failure forever with the same
// delay. Only NotFound, Malformed and context cancellation end the loop.
type FixedRetryPolicy struct {
	delay time.Duration
}

// NewFixedRetryPolicy builds a fixed-delay policy.
func NewFixedRetryPolicy(delay time.Duration) *FixedRetryPolicy {
	return &FixedRetryPolicy{delay: delay}
}

// ShouldRetry decides whether the error is retryable.
func (p *FixedRetryPolicy) ShouldRetry(err error, _ int) bool {
	return retryable(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
// A zero maxAttempts means unbounded.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a jittered exponential policy.
func NewExponentialRetryPolicy(base, maxDelay time.Duration, maxAttempts int) *ExponentialRetryPolicy {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   base,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if p.maxAttempts > 0 && attempt >= p.maxAttempts {
		return false
	}
	return retryable(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMalformed)
}

// RetryNotifier is told about every failed attempt that will be repeated.
type RetryNotifier func(attempt int, err error, delay time.Duration)

// Retry runs fn until it succeeds or policy gives up, sleeping on clock
// between attempts. It returns the number of attempts made and the last
// error. attempt is 1-based in notifications.
func Retry(
	ctx context.Context,
	policy RetryPolicy,
	clock Clock,
	notify RetryNotifier,
	fn func(ctx context.Context) error,
) (int, error) {
	attempt := 0
	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if !policy.ShouldRetry(err, attempt) {
			return attempt, err
		}
		delay := policy.Backoff(attempt - 1)
		if notify != nil {
			notify(attempt, err, delay)
		}
		if sleepErr := clock.Sleep(ctx, delay); sleepErr != nil {
			return attempt, fmt.Errorf("retry aborted after %d attempts: %w", attempt, sleepErr)
		}
	}
}
