// Package payment guards the outbound payment-processor client. Charges must
// never be replayed blindly, so there is no automatic retry: one admission,
// one attempt. Payment availability is critical, so breaker-open fails closed
// with a user-facing "temporarily unavailable" condition, while genuine
// processor declines keep their code and type for diagnostics and for
// user-actionable messaging.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/fault"
)

// ErrUnavailable is the user-facing condition when the breaker refuses
// admission: a temporary, systemic outage rather than a decline.
var ErrUnavailable = errors.New("payment processing temporarily unavailable, try again later")

// ProcessorError is a structured error returned by the payment processor
// itself (for example a card decline). Code and Type are preserved verbatim.
type ProcessorError struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor error %s (%s): %s", e.Code, e.Type, e.Message)
}

// ChargeRequest describes a charge against a bid winner's stored token.
type ChargeRequest struct {
	Token       string `json:"token"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	ListingID   string `json:"listing_id"`
}

// Charge is the processor's record of a completed charge.
type Charge struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Refund is the processor's record of a refund.
type Refund struct {
	ID       string `json:"id"`
	ChargeID string `json:"charge_id"`
	Status   string `json:"status"`
}

// Client is the opaque payment-processor capability.
type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
	Refund(ctx context.Context, chargeID string, amountCents int64) (*Refund, error)
	Retrieve(ctx context.Context, chargeID string) (*Charge, error)
}

// Processor wraps a Client with breaker admission. No retries.
type Processor struct {
	client  Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// New creates a Processor around client using the given breaker.
func New(client Client, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{client: client, breaker: breaker, logger: logger}
}

// Charge attempts a single charge.
func (p *Processor) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	var charge *Charge
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		var cerr error
		charge, cerr = p.client.Charge(ctx, req)
		return cerr
	})
	if err != nil {
		return nil, p.surface(err, "charge")
	}
	return charge, nil
}

// Refund attempts a single refund.
func (p *Processor) Refund(ctx context.Context, chargeID string, amountCents int64) (*Refund, error) {
	var refund *Refund
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		var rerr error
		refund, rerr = p.client.Refund(ctx, chargeID, amountCents)
		return rerr
	})
	if err != nil {
		return nil, p.surface(err, "refund")
	}
	return refund, nil
}

// Retrieve looks up an existing charge.
func (p *Processor) Retrieve(ctx context.Context, chargeID string) (*Charge, error) {
	var charge *Charge
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		var rerr error
		charge, rerr = p.client.Retrieve(ctx, chargeID)
		return rerr
	})
	if err != nil {
		return nil, p.surface(err, "retrieve")
	}
	return charge, nil
}

// Stats exposes the underlying breaker snapshot.
func (p *Processor) Stats() circuitbreaker.Stats {
	return p.breaker.Stats()
}

// surface maps breaker-open onto the user-facing unavailable condition and
// leaves processor errors inspectable in the chain.
func (p *Processor) surface(err error, op string) error {
	if fault.IsOpen(err) {
		p.logger.Warn("payment call refused, circuit open", "op", op)
		return errors.Join(ErrUnavailable, err)
	}

	var pe *ProcessorError
	if errors.As(err, &pe) {
		p.logger.Warn("payment processor error",
			"op", op, "code", pe.Code, "type", pe.Type)
	}
	return err
}
