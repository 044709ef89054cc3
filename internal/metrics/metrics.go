// Package metrics provides Prometheus instrumentation for the gateway and the
// circuit breaker engine. Collectors are registered once via Init and exposed
// through Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts proxied requests by route, method, and HTTP status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_gateway_requests_total",
			Help: "Total HTTP requests processed by the gateway",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration observes proxied request latency in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auction_gateway_request_duration_seconds",
			Help:    "Proxied request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// ActiveConnections tracks in-flight proxied requests.
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_gateway_active_connections",
			Help: "Number of in-flight requests currently being proxied",
		},
	)

	// BackendErrors counts backend 5xx responses and unreachable backends.
	BackendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_gateway_backend_errors_total",
			Help: "Total backend failures (5xx or no response)",
		},
		[]string{"route", "kind"},
	)

	// RateLimitHits counts rate limit rejections.
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_gateway_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"route"},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_gateway_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)

	// BreakerState exports the current state of each circuit breaker
	// (0=closed, 1=open, 2=half-open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auction_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	// BreakerTransitions counts state transitions per breaker.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	// BreakerRejections counts calls refused because a breaker was open.
	BreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_breaker_rejections_total",
			Help: "Total calls rejected without attempting the dependency",
		},
		[]string{"service"},
	)

	// DependencyFailures counts observed failures of guarded dependencies.
	DependencyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_dependency_failures_total",
			Help: "Total observed failures of guarded dependency calls",
		},
		[]string{"service"},
	)
)

// Init registers all collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ActiveConnections,
		BackendErrors,
		RateLimitHits,
		AuthFailures,
		BreakerState,
		BreakerTransitions,
		BreakerRejections,
		DependencyFailures,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
