// Package circuitbreaker implements the three-state circuit breaker that
// guards every external dependency and every proxied backend route. One
// Breaker instance is created per guarded dependency at process start and
// lives for the process lifetime; state is in-memory and never shared across
// replicas.
package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openbid/auction-gateway/internal/fault"
	"github.com/openbid/auction-gateway/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; trial calls test recovery.
)

// String returns a human-readable state name.
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

// Settings holds the immutable breaker configuration.
type Settings struct {
	// FailureThreshold is the failure count that trips the breaker from closed.
	FailureThreshold int
	// SuccessThreshold is the number of successful trial calls needed to close
	// the breaker from half-open.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before a trial is allowed.
	Timeout time.Duration
}

// DefaultSettings are applied for any zero-valued Settings field.
var DefaultSettings = Settings{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

// Stats is a point-in-time snapshot of a breaker. Field names follow the
// operational API contract consumed by the health and admin surfaces.
type Stats struct {
	Service         string     `json:"service"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failureCount"`
	SuccessCount    int        `json:"successCount"`
	TotalRequests   uint64     `json:"totalRequests"`
	TotalFailures   uint64     `json:"totalFailures"`
	ErrorRate       float64    `json:"errorRate"`
	LastFailureTime *time.Time `json:"lastFailureTime"`
}

// Breaker is a count-based three-state circuit breaker.
//
// While closed, a success leaks one accumulated failure away instead of
// resetting the count, so occasional noise does not mask a steady failure
// trend. FailureThreshold consecutive-ish failures trip it open. While open,
// every call is rejected with *fault.OpenError until Timeout has elapsed since
// the last failure; the first call after that is admitted as a trial and moves
// the breaker to half-open. SuccessThreshold successful trials close it; a
// single failed trial reopens it.
type Breaker struct {
	name     string
	settings Settings
	logger   *slog.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	totalRequests   uint64
	totalFailures   uint64

	// now is overridable for deterministic timeout tests.
	now func() time.Time
}

// New creates a closed Breaker with the given name. Zero-valued settings
// fields fall back to DefaultSettings.
func New(name string, settings Settings, logger *slog.Logger) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings.FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultSettings.SuccessThreshold
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultSettings.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:     name,
		settings: settings,
		logger:   logger,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Name returns the breaker's stable identifier.
func (b *Breaker) Name() string { return b.name }

// Do executes op under the breaker's admission control. The guarded call runs
// outside the mutex; only the admission check and the post-call bookkeeping
// are serialized, so guarded network calls proceed concurrently.
//
// On refused admission Do returns *fault.OpenError without invoking op. On a
// failed call the original error is wrapped in *fault.DependencyError, never
// swallowed.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.observe(err)

	if err != nil {
		return &fault.DependencyError{Dependency: b.name, Err: err}
	}
	return nil
}

// admit decides whether a call may proceed, counting it toward the lifetime
// request total either way.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.lastFailureTime)
	if elapsed >= b.settings.Timeout {
		// Cooldown elapsed: admit this one call as a trial.
		b.transitionTo(StateHalfOpen)
		return nil
	}

	metrics.BreakerRejections.WithLabelValues(b.name).Inc()
	return &fault.OpenError{
		Breaker:    b.name,
		RetryAfter: b.settings.Timeout - elapsed,
	}
}

// observe applies the success or failure rule for the current state.
func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.totalFailures++
		b.lastFailureTime = b.now()
		metrics.DependencyFailures.WithLabelValues(b.name).Inc()

		switch b.state {
		case StateClosed:
			b.failureCount++
			if b.failureCount >= b.settings.FailureThreshold {
				b.transitionTo(StateOpen)
			}
		case StateHalfOpen:
			// One failed trial is sufficient to reopen.
			b.successCount = 0
			b.transitionTo(StateOpen)
		}
		return
	}

	switch b.state {
	case StateClosed:
		// Leaky recovery: a success forgives one failure, not all of them.
		if b.failureCount > 0 {
			b.failureCount--
		}
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.settings.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

// Stats returns a snapshot of the breaker. Pure read, no side effects.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errorRate float64
	if b.totalRequests > 0 {
		errorRate = float64(b.totalFailures) / float64(b.totalRequests)
	}

	var last *time.Time
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		last = &t
	}

	return Stats{
		Service:         b.name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		TotalRequests:   b.totalRequests,
		TotalFailures:   b.totalFailures,
		ErrorRate:       errorRate,
		LastFailureTime: last,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsHealthy reports whether the breaker is admitting calls (not open).
func (b *Breaker) IsHealthy() bool {
	return b.State() != StateOpen
}

// Trip forces the breaker open regardless of counts, with the cooldown
// starting now. Used for controlled draining and operational testing.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureTime = b.now()
	b.transitionTo(StateOpen)
}

// ForceReset forces the breaker closed and zeroes both working counts.
// Lifetime totals are never reset.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.successCount = 0
	b.transitionTo(StateClosed)
}

// transitionTo changes state, emitting metrics and a log line.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.BreakerTransitions.WithLabelValues(b.name, from.String(), newState.String()).Inc()
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"service", b.name,
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	case StateOpen:
		b.successCount = 0
		if b.lastFailureTime.IsZero() {
			b.lastFailureTime = b.now()
		}
	case StateHalfOpen:
		b.successCount = 0
	}
}
