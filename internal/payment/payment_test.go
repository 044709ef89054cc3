package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/fault"
)

type fakeClient struct {
	chargeErr error
	calls     int
}

func (f *fakeClient) Charge(context.Context, ChargeRequest) (*Charge, error) {
	f.calls++
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	return &Charge{ID: "ch_1", Status: "succeeded", AmountCents: 5000, Currency: "usd"}, nil
}

func (f *fakeClient) Refund(context.Context, string, int64) (*Refund, error) {
	f.calls++
	return &Refund{ID: "re_1", ChargeID: "ch_1", Status: "succeeded"}, nil
}

func (f *fakeClient) Retrieve(context.Context, string) (*Charge, error) {
	f.calls++
	return &Charge{ID: "ch_1", Status: "succeeded"}, nil
}

func newProcessor(client Client) *Processor {
	b := circuitbreaker.New("payments", circuitbreaker.Settings{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, nil)
	return New(client, b, nil)
}

func TestChargeSuccess(t *testing.T) {
	client := &fakeClient{}
	p := newProcessor(client)

	charge, err := p.Charge(context.Background(), ChargeRequest{Token: "tok_1", AmountCents: 5000, Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", charge.Status)
}

func TestChargeNeverRetries(t *testing.T) {
	client := &fakeClient{chargeErr: errors.New("timeout")}
	p := newProcessor(client)

	_, err := p.Charge(context.Background(), ChargeRequest{Token: "tok_1"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "charges must not be replayed")
}

func TestOpenBreakerSurfacesUnavailable(t *testing.T) {
	client := &fakeClient{}
	p := newProcessor(client)
	p.breaker.Trip()

	_, err := p.Charge(context.Background(), ChargeRequest{Token: "tok_1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, fault.IsOpen(err))
	assert.Zero(t, client.calls)
}

func TestProcessorDeclinePreserved(t *testing.T) {
	decline := &ProcessorError{Code: "card_declined", Type: "card_error", Message: "insufficient funds"}
	client := &fakeClient{chargeErr: decline}
	p := newProcessor(client)

	_, err := p.Charge(context.Background(), ChargeRequest{Token: "tok_1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable, "a decline is not an availability condition")

	var pe *ProcessorError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "card_declined", pe.Code)
	assert.Equal(t, "card_error", pe.Type)
}

func TestHTTPClientDecodesProcessorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"code":"card_declined","type":"card_error","message":"insufficient funds"}}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, "sk_test")
	require.NoError(t, err)

	_, err = client.Charge(context.Background(), ChargeRequest{Token: "tok_1", AmountCents: 100, Currency: "usd"})
	var pe *ProcessorError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "card_declined", pe.Code)
}

func TestHTTPClientChargeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ch_9","status":"succeeded","amount_cents":100,"currency":"usd"}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, "sk_test")
	require.NoError(t, err)

	charge, err := client.Charge(context.Background(), ChargeRequest{Token: "tok_1", AmountCents: 100, Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "ch_9", charge.ID)
}
