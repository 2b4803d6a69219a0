// Package resilience guards gatekeeper's outbound calls to the identity
// provider.
//
// Key set fetches go through an Executor that bounds each attempt with a
// Timeout, retries transient failures with exponential backoff, and can stop
// calling a provider that keeps failing with a CircuitBreaker. A RateLimiter
// bounds how often requests carrying unknown key IDs may force a refetch.
//
//	exec := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3, Jitter: true})),
//	    resilience.WithTimeout(5*time.Second),
//	)
//	err := exec.Execute(ctx, fetchKeySet)
//
// Errors that retrying cannot fix, such as a 404 from the key set endpoint,
// should be wrapped with Permanent.
package resilience
