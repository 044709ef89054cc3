package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/fault"
	"github.com/openbid/auction-gateway/internal/retry"
)

type fakeClient struct {
	pingErr  error
	queryErr error
	calls    int
}

func (f *fakeClient) PingContext(context.Context) error {
	f.calls++
	return f.pingErr
}

func (f *fakeClient) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	f.calls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return nil, nil
}

func (f *fakeClient) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	f.calls++
	return nil, f.queryErr
}

func newGuard(t *testing.T, client Client, failureThreshold int) *Guard {
	t.Helper()
	b := circuitbreaker.New("database", circuitbreaker.Settings{
		FailureThreshold: failureThreshold,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, nil)
	g := New(client, b, nil)
	g.policy = retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	return g
}

func TestQuerySuccess(t *testing.T) {
	client := &fakeClient{}
	g := newGuard(t, client, 3)

	_, err := g.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestQueryRetriesThenExhausts(t *testing.T) {
	client := &fakeClient{queryErr: errors.New("connection reset")}
	g := newGuard(t, client, 10)

	_, err := g.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, client.calls, "expected exactly 3 attempts")

	var re *fault.RetryExhaustedError
	assert.ErrorAs(t, err, &re)
}

func TestOpenBreakerAbortsRetriesAndFailsClosed(t *testing.T) {
	client := &fakeClient{queryErr: errors.New("connection reset")}
	g := newGuard(t, client, 10)
	g.breaker.Trip()

	_, err := g.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, fault.IsOpen(err), "cause should be breaker-open")
	assert.Equal(t, 0, client.calls, "open breaker must not touch the client")
}

func TestProbeSingleAttempt(t *testing.T) {
	client := &fakeClient{pingErr: errors.New("down")}
	g := newGuard(t, client, 10)

	err := g.Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "probe must not retry")
	assert.NotErrorIs(t, err, ErrUnavailable, "plain dependency error is not an availability condition")
}

func TestRepeatedFailuresTripBreaker(t *testing.T) {
	client := &fakeClient{queryErr: errors.New("down")}
	g := newGuard(t, client, 3)

	// One Query burns 3 attempts, enough to trip threshold 3.
	_, err := g.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, "open", g.Stats().State)

	// Next call fails fast without reaching the client.
	before := client.calls
	_, err = g.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, before, client.calls)
}
