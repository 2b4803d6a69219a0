package health

import (
	"context"
	"fmt"
	"time"
)

// Status represents the health status of a component.
type Status int

const (
	// StatusHealthy indicates the component is functioning normally.
	StatusHealthy Status = iota
	// StatusDegraded indicates the component works but needs attention,
	// for example a key set that is stale after a failed refresh.
	StatusDegraded
	// StatusUnhealthy indicates the component cannot serve requests.
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a health check.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// WithDetails adds details to a result.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// Checker is the interface for health checks.
//
// Contract:
//   - Concurrency: Check may be called concurrently.
//   - Context: Check should return promptly once ctx is done.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a new CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (f *CheckerFunc) Name() string                     { return f.name }
func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// NewPingChecker reports a dependency healthy when ping succeeds. Failures
// are reported as degraded when optional is true, unhealthy otherwise.
func NewPingChecker(name string, optional bool, ping func(context.Context) error) *CheckerFunc {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			msg := fmt.Sprintf("%s unreachable", name)
			if optional {
				r := Degraded(msg)
				r.Error = err
				return r
			}
			return Unhealthy(msg, fmt.Errorf("%w: %w", ErrCheckFailed, err))
		}
		return Healthy(name + " reachable")
	})
}
