// Package fault defines the typed errors shared by the circuit breaker engine
// and every guarded dependency. Callers classify failures with errors.As and
// errors.Is; no error is ever identified by matching message text.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// OpenError is returned when a breaker refuses a call without attempting it.
// RetryAfter is the remaining cooldown before a trial call will be admitted.
type OpenError struct {
	Breaker    string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry after %s", e.Breaker, e.RetryAfter)
}

// IsOpen reports whether err (or anything it wraps) is a breaker refusal.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// DependencyError wraps a failure observed while executing a guarded call.
// The breaker has already recorded the failure by the time the caller sees it.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// RetryExhaustedError is returned when every retry attempt against a
// dependency has failed. Err holds the last attempt's error.
type RetryExhaustedError struct {
	Dependency string
	Attempts   int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("dependency %s still failing after %d attempts: %v", e.Dependency, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// UpstreamUnavailableError marks a proxied backend that produced no HTTP
// response at all, as opposed to responding with an error status.
type UpstreamUnavailableError struct {
	Service string
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }
