package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrTimeout is returned when an attempt exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry returns it without further attempts.
// errors.Is and errors.As still see through the wrapper.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
