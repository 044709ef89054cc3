// Package admin provides the operational control surface: manual breaker
// trip/reset, redacted config inspection, and rate-limiter introspection.
// Every endpoint is protected by an IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/openbid/auction-gateway/internal/apierror"
	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/config"
	"github.com/openbid/auction-gateway/internal/ratelimit"
)

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// Handler provides the admin API endpoints.
type Handler struct {
	registry    *circuitbreaker.Registry
	reloader    ConfigProvider
	limiter     *ratelimit.Limiter
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates an admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this); invalid entries are skipped.
func New(registry *circuitbreaker.Registry, reloader ConfigProvider, limiter *ratelimit.Limiter, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		registry:    registry,
		reloader:    reloader,
		limiter:     limiter,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux. Breaker actions live
// under /circuit-breakers/ next to the health surface's read-only listing.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/circuit-breakers/", h.guard(http.MethodPost, h.breakerAction))
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
	mux.HandleFunc("/admin/limiters", h.guard(http.MethodGet, h.limitersHandler))
}

// guard wraps a handler with method and IP allowlist checks.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "method not allowed")
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteJSON(w, r, http.StatusForbidden, apierror.InternalError, "forbidden")
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// breakerAction handles POST /circuit-breakers/{service}/{trip|reset}.
// The targeted breaker must already exist; breakers are never created here.
func (h *Handler) breakerAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/circuit-breakers/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.RouteNotFound, "expected /circuit-breakers/{service}/{trip|reset}")
		return
	}
	service, action := parts[0], parts[1]

	breaker := h.registry.Get(service)
	if breaker == nil {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.BreakerNotFound, "no circuit breaker named "+service)
		return
	}

	switch action {
	case "trip":
		breaker.Trip()
		h.logger.Info("circuit breaker manually tripped", "service", service, "client_ip", extractIP(r.RemoteAddr))
	case "reset":
		breaker.ForceReset()
		h.logger.Info("circuit breaker manually reset", "service", service, "client_ip", extractIP(r.RemoteAddr))
	default:
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.RouteNotFound, "unknown action "+action)
		return
	}

	writeJSON(w, http.StatusOK, breaker.Stats())
}

// configHandler returns the active configuration with secrets redacted.
func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

// limitersHandler returns the per-client limiter table with paging.
func (h *Handler) limitersHandler(w http.ResponseWriter, r *http.Request) {
	entries := h.limiter.Snapshot()

	pageSize := 100
	page := 0
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if v := parseInt(ps); v > 0 && v <= 1000 {
			pageSize = v
		}
	}
	if p := r.URL.Query().Get("page"); p != "" {
		if v := parseInt(p); v >= 0 {
			page = v
		}
	}

	total := len(entries)
	start := page * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries[start:end],
		"total":   total,
		"page":    page,
	})
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
