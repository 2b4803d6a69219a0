package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of operations allowed per second.
	// Default: 1
	Rate float64

	// Burst is the maximum number of operations allowed at once.
	// Default: 1
	Burst int

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// RateLimiter is a token bucket. It never blocks: callers over the limit
// are rejected with ErrRateLimitExceeded.
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 1
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RateLimiter{
		config:   config,
		tokens:   float64(config.Burst),
		lastFill: config.Now(),
	}
}

// Allow takes one token if available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Execute runs op if a token is available.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}

// Tokens returns the number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

func (rl *RateLimiter) refillLocked() {
	now := rl.config.Now()
	elapsed := now.Sub(rl.lastFill)
	if elapsed <= 0 {
		return
	}
	rl.lastFill = now
	rl.tokens += elapsed.Seconds() * rl.config.Rate
	if limit := float64(rl.config.Burst); rl.tokens > limit {
		rl.tokens = limit
	}
}
