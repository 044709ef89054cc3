package peersync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
)

type listingSnapshot struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func newSyncer(t *testing.T, baseURL string) *Syncer {
	t.Helper()
	b := circuitbreaker.New("listings-peer", circuitbreaker.Settings{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, nil)
	s, err := New("listings", baseURL, b, nil)
	require.NoError(t, err)
	return s
}

func TestGetDecodesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listings/42", r.URL.Path)
		w.Write([]byte(`{"id":"42","title":"vintage lamp"}`))
	}))
	defer srv.Close()

	s := newSyncer(t, srv.URL)

	var snap listingSnapshot
	stale, err := s.Get(context.Background(), "/listings/42", &snap)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, "vintage lamp", snap.Title)
}

func TestGetServesStaleOnPeerFailure(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"id":"42","title":"vintage lamp"}`))
	}))
	defer srv.Close()

	s := newSyncer(t, srv.URL)

	var snap listingSnapshot
	_, err := s.Get(context.Background(), "/listings/42", &snap)
	require.NoError(t, err)

	failing.Store(true)
	snap = listingSnapshot{}
	stale, err := s.Get(context.Background(), "/listings/42", &snap)
	require.NoError(t, err)
	assert.True(t, stale, "expected cached value flagged stale")
	assert.Equal(t, "vintage lamp", snap.Title)
}

func TestGetSkipsWhenNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newSyncer(t, srv.URL)

	var snap listingSnapshot
	stale, err := s.Get(context.Background(), "/listings/99", &snap)
	assert.False(t, stale)
	require.ErrorIs(t, err, ErrSyncSkipped)
}

func TestOpenBreakerServesStaleWithoutCallingPeer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"id":"42","title":"vintage lamp"}`))
	}))
	defer srv.Close()

	s := newSyncer(t, srv.URL)

	var snap listingSnapshot
	_, err := s.Get(context.Background(), "/listings/42", &snap)
	require.NoError(t, err)
	before := calls.Load()

	s.breaker.Trip()
	stale, err := s.Get(context.Background(), "/listings/42", &snap)
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, before, calls.Load(), "open breaker must not contact the peer")
}

func TestPeer4xxDoesNotAffectBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newSyncer(t, srv.URL)

	var snap listingSnapshot
	for i := 0; i < 5; i++ {
		_, err := s.Get(context.Background(), "/listings/missing", &snap)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrSyncSkipped)
	}
	assert.Equal(t, "closed", s.Stats().State)
	assert.Zero(t, s.Stats().TotalFailures)
}

func TestPostSkippedOnOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("peer must not be contacted")
	}))
	defer srv.Close()

	s := newSyncer(t, srv.URL)
	s.breaker.Trip()

	err := s.Post(context.Background(), "/listings/42/views", map[string]int{"delta": 1})
	require.ErrorIs(t, err, ErrSyncSkipped)
}
