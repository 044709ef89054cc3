// Package retry provides the bounded exponential-backoff retry policy used by
// the database and object-storage adapters.
package retry

import (
	"context"
	"time"

	"github.com/openbid/auction-gateway/internal/fault"
)

// Policy describes a bounded retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt; it doubles for
	// each subsequent attempt.
	InitialBackoff time.Duration
}

// Default is the adapter retry policy: up to 3 attempts, exponential backoff
// starting at 1s.
var Default = Policy{MaxAttempts: 3, InitialBackoff: time.Second}

// Do runs op up to p.MaxAttempts times. A breaker-open error aborts
// immediately without further attempts: retrying cannot help while the
// circuit is open, and hammering the breaker would delay recovery.
// After the final failed attempt the last error is returned wrapped in
// *fault.RetryExhaustedError. The backoff sleep honors ctx cancellation.
func Do(ctx context.Context, name string, p Policy, op func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	backoff := p.InitialBackoff
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if fault.IsOpen(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return &fault.RetryExhaustedError{Dependency: name, Attempts: p.MaxAttempts, Err: err}
}
