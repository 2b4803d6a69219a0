package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: 30s
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of concurrent probes allowed.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called with the lock held; it must not call back
	// into the breaker.
	OnStateChange func(from, to State)

	// IsFailure determines if an error counts as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker stops calling a dependency that keeps failing.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{config: config}
}

// Execute runs op unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := op(ctx)
	cb.record(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentLocked()
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := cb.config.IsFailure(err)

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			cb.openedAt = cb.config.Now()
			cb.transitionLocked(StateOpen)
		}

	case StateHalfOpen:
		if failed {
			cb.openedAt = cb.config.Now()
			cb.transitionLocked(StateOpen)
			return
		}
		cb.failures = 0
		cb.transitionLocked(StateClosed)
	}
}

func (cb *CircuitBreaker) currentLocked() State {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.halfOpenCount = 0
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
