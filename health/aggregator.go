package health

import (
	"context"
	"sync"
	"time"
)

// Aggregator runs a set of named checkers concurrently.
type Aggregator struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewAggregator creates an aggregator. A non-positive timeout defaults to 5s.
func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{
		timeout:  timeout,
		checkers: make(map[string]Checker),
	}
}

// Register adds checker under its Name, replacing any previous one.
func (a *Aggregator) Register(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := checker.Name()
	if _, exists := a.checkers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checkers[name] = checker
}

// CheckerNames returns registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// Check runs a single named check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return run(ctx, checker), nil
}

// CheckAll runs every registered check in parallel.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := make([]Checker, 0, len(a.order))
	for _, name := range a.order {
		checkers = append(checkers, a.checkers[name])
	}
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]Result, len(checkers))
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			r := run(ctx, c)
			mu.Lock()
			results[c.Name()] = r
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// OverallStatus returns the worst status in results; Healthy when empty.
func OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, r := range results {
		if r.Status > overall {
			overall = r.Status
		}
	}
	return overall
}

func run(ctx context.Context, checker Checker) Result {
	start := time.Now()
	ch := make(chan Result, 1)

	go func() {
		ch <- checker.Check(ctx)
	}()

	select {
	case r := <-ch:
		r.Duration = time.Since(start)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		return r
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}
