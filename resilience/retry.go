package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures the retry behavior. Delays grow exponentially.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the maximum delay between retries.
	// Default: 5s
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// Jitter adds up to 25% random delay so that a fleet of instances
	// does not retry against the identity provider in lockstep.
	Jitter bool

	// RetryIf reports whether err should be retried. Errors wrapped with
	// Permanent are never retried.
	// Default: all non-nil errors are retried.
	RetryIf func(err error) bool

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits for d or until ctx ends. Default: a timer select.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry implements retry with exponential backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}
	return &Retry{config: config}
}

// Execute runs op until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The last error is returned unwrapped.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || !r.config.RetryIf(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.Backoff(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if err := r.config.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// Backoff returns the delay after the given failed attempt (1-based).
func (r *Retry) Backoff(attempt int) time.Duration {
	delay := time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1)))
	if delay > r.config.MaxDelay || delay <= 0 {
		delay = r.config.MaxDelay
	}
	if r.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}
	return delay
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
