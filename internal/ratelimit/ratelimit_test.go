package ratelimit

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openbid/auction-gateway/internal/apierror"
	"github.com/openbid/auction-gateway/internal/config"
	"github.com/openbid/auction-gateway/internal/metrics"
)

func init() {
	metrics.Init()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAllowsUpToBurst(t *testing.T) {
	limiter := New(config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5}, nil, nil, testLogger())
	defer limiter.Stop()

	handler := limiter.Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestBlocksAfterBurst(t *testing.T) {
	limiter := New(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, nil, nil, testLogger())
	defer limiter.Stop()

	handler := limiter.Middleware()(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
		req.RemoteAddr = "10.0.0.2:12345"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	var body apierror.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error != string(apierror.RateLimitExceeded) {
		t.Fatalf("unexpected error code %q", body.Error)
	}
}

func TestPerClientIsolation(t *testing.T) {
	limiter := New(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil, nil, testLogger())
	defer limiter.Stop()

	handler := limiter.Middleware()(okHandler())

	req1 := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req1.RemoteAddr = "10.0.0.1:12345"
	handler.ServeHTTP(httptest.NewRecorder(), req1)

	req1b := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req1b.RemoteAddr = "10.0.0.1:12345"
	rec1b := httptest.NewRecorder()
	handler.ServeHTTP(rec1b, req1b)
	if rec1b.Code != http.StatusTooManyRequests {
		t.Errorf("client 1 should be rate limited, got %d", rec1b.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req2.RemoteAddr = "10.0.0.2:12345"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Errorf("client 2 should be allowed, got %d", rec2.Code)
	}
}

func TestXForwardedForIgnoredWithoutTrustedProxies(t *testing.T) {
	limiter := New(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil, nil, testLogger())
	defer limiter.Stop()

	handler := limiter.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req.RemoteAddr = "10.0.0.50:8080"
	req.Header.Set("X-Forwarded-For", "192.168.1.100")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// Same peer, different spoofed XFF: still counted against the peer.
	req2 := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req2.RemoteAddr = "10.0.0.50:8080"
	req2.Header.Set("X-Forwarded-For", "192.168.1.200")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
}

func TestXForwardedForHonoredFromTrustedProxy(t *testing.T) {
	limiter := New(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil, []string{"10.0.0.0/8"}, testLogger())
	defer limiter.Stop()

	handler := limiter.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req2.RemoteAddr = "10.0.0.1:8080"
	req2.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same forwarded IP, got %d", rec2.Code)
	}
}

func TestUpdateConfigTakesEffectImmediately(t *testing.T) {
	limiter := New(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil, nil, testLogger())
	defer limiter.Stop()

	handler := limiter.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req.RemoteAddr = "10.0.0.9:1000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req2.RemoteAddr = "10.0.0.9:1000"
	handler.ServeHTTP(rec, req2)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 before reload, got %d", rec.Code)
	}

	limiter.UpdateConfig(config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100})

	rec2 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
	req3.RemoteAddr = "10.0.0.9:1000"
	handler.ServeHTTP(rec2, req3)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 after raising limits, got %d", rec2.Code)
	}
}

func TestSnapshotListsClients(t *testing.T) {
	limiter := New(config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 10}, nil, nil, testLogger())
	defer limiter.Stop()

	handler := limiter.Middleware()(okHandler())
	for _, addr := range []string{"10.0.0.3:1", "10.0.0.1:2", "10.0.0.2:3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/bids", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := limiter.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ClientIP != "10.0.0.1" || entries[2].ClientIP != "10.0.0.3" {
		t.Fatalf("expected entries sorted by IP, got %+v", entries)
	}
}
