package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openbid/auction-gateway/internal/apierror"
	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/config"
	"github.com/openbid/auction-gateway/internal/metrics"
	"github.com/openbid/auction-gateway/internal/ratelimit"
)

func init() {
	metrics.Init()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Current() *config.Config { return s.cfg }

func setup(t *testing.T) (*http.ServeMux, *circuitbreaker.Registry) {
	t.Helper()
	registry := circuitbreaker.NewRegistry()
	registry.Register(circuitbreaker.New("payments", circuitbreaker.DefaultSettings, testLogger()))
	registry.Register(circuitbreaker.New("bids", circuitbreaker.DefaultSettings, testLogger()))

	limiter := ratelimit.New(config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 10}, nil, nil, testLogger())
	t.Cleanup(limiter.Stop)

	cfg := &config.Config{Auth: config.AuthConfig{Enabled: true, JWTSecret: "topsecret"}}
	h := New(registry, staticConfig{cfg}, limiter, []string{"127.0.0.0/8"}, testLogger())

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, registry
}

func adminRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:44123"
	return req
}

func TestTripAndReset(t *testing.T) {
	mux, registry := setup(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest(http.MethodPost, "/circuit-breakers/payments/trip"))
	if rec.Code != http.StatusOK {
		t.Fatalf("trip: expected 200, got %d", rec.Code)
	}
	if registry.Get("payments").State() != circuitbreaker.StateOpen {
		t.Fatal("expected breaker open after trip")
	}

	var stats circuitbreaker.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if stats.Service != "payments" || stats.State != "open" {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest(http.MethodPost, "/circuit-breakers/payments/reset"))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	if registry.Get("payments").State() != circuitbreaker.StateClosed {
		t.Fatal("expected breaker closed after reset")
	}
}

func TestUnknownBreakerNotCreated(t *testing.T) {
	mux, registry := setup(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest(http.MethodPost, "/circuit-breakers/ghost/trip"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body apierror.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error != string(apierror.BreakerNotFound) {
		t.Fatalf("unexpected error code %q", body.Error)
	}
	if registry.Get("ghost") != nil {
		t.Fatal("trip must not create breakers")
	}
}

func TestDeniedOutsideAllowlist(t *testing.T) {
	mux, registry := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/circuit-breakers/payments/trip", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if registry.Get("payments").State() != circuitbreaker.StateClosed {
		t.Fatal("breaker must be untouched on denied request")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := setup(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest(http.MethodGet, "/circuit-breakers/payments/trip"))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestConfigRedactsSecrets(t *testing.T) {
	mux, _ := setup(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/config"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got config.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if got.Auth.JWTSecret != "***" {
		t.Fatalf("expected redacted secret, got %q", got.Auth.JWTSecret)
	}
}
