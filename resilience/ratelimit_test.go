package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	if rl.config.Rate != 1 || rl.config.Burst != 1 {
		t.Errorf("defaults = rate %v burst %d, want 1/1", rl.config.Rate, rl.config.Burst)
	}
}

func TestRateLimiter_BurstAndRefill(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{Rate: 2, Burst: 3, Now: clock.Now})

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true within burst", i+1)
		}
	}
	if rl.Allow() {
		t.Fatal("Allow() = true after burst exhausted")
	}

	clock.Advance(500 * time.Millisecond)
	if !rl.Allow() {
		t.Fatal("Allow() = false after refill of one token")
	}
	if rl.Allow() {
		t.Fatal("Allow() = true with empty bucket")
	}

	clock.Advance(time.Hour)
	if got := rl.Tokens(); got != 3 {
		t.Errorf("Tokens() = %v, want capped at 3", got)
	}
}

func TestRateLimiter_Execute(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, Now: clock.Now})

	calls := 0
	op := func(ctx context.Context) error {
		calls++
		return nil
	}

	if err := rl.Execute(context.Background(), op); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if err := rl.Execute(context.Background(), op); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("second Execute() error = %v, want %v", err, ErrRateLimitExceeded)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
