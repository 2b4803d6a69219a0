package resilience

import (
	"context"
	"time"
)

// Executor composes the resilience patterns around one outbound call.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker. A nil breaker is ignored.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry adds retry logic.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithTimeout bounds every attempt with d.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(d)
	}
}

// Execute runs op through the configured patterns:
//
//	circuit breaker -> retry -> per-attempt timeout -> op
//
// The breaker sees one outcome per Execute call, so a single call whose
// retries all fail counts as one failure.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	if e.circuitBreaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.circuitBreaker.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}
