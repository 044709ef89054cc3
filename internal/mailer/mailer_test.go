package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
)

type fakeClient struct {
	sendErr error
	calls   int
}

func (f *fakeClient) Send(context.Context, Message) error {
	f.calls++
	return f.sendErr
}

func newMailer(client Client) *Mailer {
	b := circuitbreaker.New("smtp", circuitbreaker.Settings{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, nil)
	return New(client, b, nil)
}

func TestSendSuccess(t *testing.T) {
	client := &fakeClient{}
	m := newMailer(client)

	err := m.Send(context.Background(), Message{From: "noreply@openbid.test", To: []string{"a@b.test"}, Subject: "Outbid"})
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestSendFailsSilently(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("relay down")}
	m := newMailer(client)

	err := m.Send(context.Background(), Message{From: "noreply@openbid.test", To: []string{"a@b.test"}})
	assert.NoError(t, err, "mail failures must not propagate")
	assert.Equal(t, uint64(1), m.Stats().TotalFailures, "breaker still observes the failure")
}

func TestBreakerStillTripsAndSkipsRelay(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("relay down")}
	m := newMailer(client)

	// Two failures trip the breaker (threshold 2).
	m.Send(context.Background(), Message{})
	m.Send(context.Background(), Message{})
	assert.Equal(t, "open", m.Stats().State)

	// Third send is refused by the breaker, never reaching the relay,
	// and the caller still sees success.
	err := m.Send(context.Background(), Message{})
	assert.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}
