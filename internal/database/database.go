// Package database guards an opaque SQL client with a circuit breaker and a
// bounded retry policy. Database availability is critical to every workflow,
// so breaker-open conditions fail closed: the caller sees a
// service-unavailable error instead of a degraded result.
package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/fault"
	"github.com/openbid/auction-gateway/internal/retry"
)

// ErrUnavailable is the caller-facing condition for a database that cannot be
// reached right now, whether because the breaker is open or retries are
// exhausted. The underlying cause remains inspectable via errors.As.
var ErrUnavailable = errors.New("database temporarily unavailable")

// Client is the opaque database capability consumed by the guard.
// *sql.DB satisfies it.
type Client interface {
	PingContext(ctx context.Context) error
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Guard wraps a database client with breaker admission and retries.
type Guard struct {
	client  Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	logger  *slog.Logger
}

// New creates a Guard around client using the given breaker. The retry policy
// is fixed: up to 3 attempts with exponential backoff starting at 1s,
// aborting immediately when the breaker is open.
func New(client Client, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		client:  client,
		breaker: breaker,
		policy:  retry.Default,
		logger:  logger,
	}
}

// Query runs a guarded query with retries.
func (g *Guard) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := retry.Do(ctx, g.breaker.Name(), g.policy, func(ctx context.Context) error {
		return g.breaker.Do(ctx, func(ctx context.Context) error {
			var qerr error
			rows, qerr = g.client.QueryContext(ctx, query, args...)
			return qerr
		})
	})
	if err != nil {
		return nil, g.surface(err)
	}
	return rows, nil
}

// Exec runs a guarded statement with retries.
func (g *Guard) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry.Do(ctx, g.breaker.Name(), g.policy, func(ctx context.Context) error {
		return g.breaker.Do(ctx, func(ctx context.Context) error {
			var xerr error
			res, xerr = g.client.ExecContext(ctx, query, args...)
			return xerr
		})
	})
	if err != nil {
		return nil, g.surface(err)
	}
	return res, nil
}

// Probe is the lightweight liveness check. A single attempt through the
// breaker, no retries: probes are periodic, the next one comes soon enough.
func (g *Guard) Probe(ctx context.Context) error {
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.client.PingContext(ctx)
	})
	if err != nil {
		return g.surface(err)
	}
	return nil
}

// Stats exposes the underlying breaker snapshot for the health surface.
func (g *Guard) Stats() circuitbreaker.Stats {
	return g.breaker.Stats()
}

// surface maps breaker-open and retry-exhausted conditions onto
// ErrUnavailable while keeping the original error chain intact.
func (g *Guard) surface(err error) error {
	var re *fault.RetryExhaustedError
	if fault.IsOpen(err) || errors.As(err, &re) {
		g.logger.Warn("database unavailable", "service", g.breaker.Name(), "error", err)
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
