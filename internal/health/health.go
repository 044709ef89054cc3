// Package health exposes the gateway's aggregate health and the per-breaker
// status listing. Health is derived entirely from breaker state: any open
// breaker degrades the whole surface.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

// Summary aggregates breaker states for the health response.
type Summary struct {
	Total    int `json:"total"`
	Open     int `json:"open"`
	HalfOpen int `json:"halfOpen"`
	Closed   int `json:"closed"`
}

// Response is the /health body. Services maps each breaker name to its
// current state string for quick scanning; CircuitBreakers carries the full
// snapshots.
type Response struct {
	Status          string                 `json:"status"`
	Timestamp       string                 `json:"timestamp"`
	Services        map[string]string      `json:"services"`
	CircuitBreakers []circuitbreaker.Stats `json:"circuitBreakers"`
	Summary         Summary                `json:"summary"`
}

// Handler serves the health and breaker status endpoints.
type Handler struct {
	registry *circuitbreaker.Registry
	logger   *slog.Logger
}

// New creates a health Handler backed by the breaker registry.
func New(registry *circuitbreaker.Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// RegisterRoutes adds the health endpoints to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/health/live", h.liveness)
	mux.HandleFunc("/circuit-breakers", h.breakers)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody) //nolint:errcheck
}

// health reports healthy (200) when no breaker is open and degraded (503)
// otherwise. Half-open breakers count toward degraded=false: a probing
// dependency is on its way back.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	snapshot := h.registry.Snapshot()

	services := make(map[string]string, len(snapshot))
	var summary Summary
	summary.Total = len(snapshot)
	for _, s := range snapshot {
		services[s.Service] = s.State
		switch s.State {
		case "open":
			summary.Open++
		case "half-open":
			summary.HalfOpen++
		default:
			summary.Closed++
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if summary.Open > 0 {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, Response{
		Status:          status,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Services:        services,
		CircuitBreakers: snapshot,
		Summary:         summary,
	})
}

// breakers returns the full stats array, sorted by breaker name.
func (h *Handler) breakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
