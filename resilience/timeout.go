package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Timeout bounds each call with its own deadline.
type Timeout struct {
	d time.Duration
}

// NewTimeout creates a timeout wrapper. A non-positive d defaults to 5s.
func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = 5 * time.Second
	}
	return &Timeout{d: d}
}

// Duration returns the configured per-call deadline.
func (t *Timeout) Duration() time.Duration {
	return t.d
}

// Execute runs op with a derived deadline. op must honor ctx; the result is
// reported as ErrTimeout (wrapping the op error) when this wrapper's
// deadline, not the parent's, fired.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	err := op(tctx)
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, t.d, err)
	}
	return err
}
