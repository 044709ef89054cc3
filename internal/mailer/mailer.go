// Package mailer guards outbound notification mail (outbid alerts, auction
// won/lost notices) with a circuit breaker. Mail delivery is non-critical to
// the marketplace core, so the adapter fails silently: the breaker is still
// updated from every attempt, but the enclosing workflow always proceeds as
// if the message were sent.
package mailer

import (
	"context"
	"log/slog"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
)

// Message is an outbound notification mail.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Client is the opaque SMTP capability.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer wraps a Client with breaker admission. No retries; a lost
// notification is acceptable, a stalled checkout is not.
type Mailer struct {
	client  Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// New creates a Mailer around client using the given breaker.
func New(client Client, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{client: client, breaker: breaker, logger: logger}
}

// Send attempts delivery once. It always returns nil: failures are recorded
// by the breaker and logged, never propagated.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		return m.client.Send(ctx, msg)
	})
	if err != nil {
		m.logger.Warn("mail delivery skipped",
			"service", m.breaker.Name(),
			"subject", msg.Subject,
			"recipients", len(msg.To),
			"error", err,
		)
	}
	return nil
}

// Stats exposes the underlying breaker snapshot.
func (m *Mailer) Stats() circuitbreaker.Stats {
	return m.breaker.Stats()
}
