// Package proxy implements the gateway's routing and forwarding engine. Every
// configured route carries its own circuit breaker; backend calls are made as
// direct HTTP round trips so the breaker can distinguish a 5xx response (a
// failure that is still relayed to the client) from an unreachable backend and
// from a refused admission.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openbid/auction-gateway/internal/apierror"
	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/config"
	"github.com/openbid/auction-gateway/internal/fault"
	"github.com/openbid/auction-gateway/internal/metrics"
	"github.com/openbid/auction-gateway/internal/routing"
)

// Route is a compiled route: parsed backend URL plus the breaker guarding it.
type Route struct {
	Name         string
	PathPrefix   string
	Backend      *url.URL
	AuthRequired bool
	Timeout      time.Duration
	Breaker      *circuitbreaker.Breaker
}

// Router matches incoming requests to routes and forwards them through each
// route's circuit breaker.
type Router struct {
	routes []Route
	client *http.Client
	logger *slog.Logger
}

// New compiles the configured routes, creates one breaker per route, and
// registers each breaker with the registry under the route name. Routes are
// sorted by prefix length (longest first) so the most specific prefix wins.
func New(cfgRoutes []config.RouteConfig, defaults config.BreakerConfig, registry *circuitbreaker.Registry, logger *slog.Logger) (*Router, error) {
	routes := make([]Route, 0, len(cfgRoutes))
	for _, rc := range cfgRoutes {
		target, err := url.Parse(rc.Backend)
		if err != nil {
			return nil, fmt.Errorf("invalid backend URL %q for route %q: %w", rc.Backend, rc.Name, err)
		}

		bc := defaults
		if rc.Breaker != nil {
			bc = *rc.Breaker
		}
		breaker := circuitbreaker.New(rc.Name, circuitbreaker.Settings{
			FailureThreshold: bc.FailureThreshold,
			SuccessThreshold: bc.SuccessThreshold,
			Timeout:          bc.Timeout(),
		}, logger)
		registry.Register(breaker)

		routes = append(routes, Route{
			Name:         rc.Name,
			PathPrefix:   rc.PathPrefix,
			Backend:      target,
			AuthRequired: rc.AuthRequired,
			Timeout:      rc.Timeout(),
			Breaker:      breaker,
		})
	}

	sort.Slice(routes, func(i, j int) bool {
		return len(routes[i].PathPrefix) > len(routes[j].PathPrefix)
	})

	return &Router{
		routes: routes,
		client: &http.Client{
			// Per-request deadlines come from the route timeout context;
			// redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// MatchRoute returns the longest-prefix route for path. Exposed so the auth
// and rate-limit middleware can resolve route settings before proxying.
func (rt *Router) MatchRoute(path string) (Route, bool) {
	for _, route := range rt.routes {
		if routing.MatchesPrefix(path, route.PathPrefix) {
			return route, true
		}
	}
	return Route{}, false
}

// ServeHTTP matches the request to a route and forwards it through the
// route's breaker. A backend 5xx counts against the breaker but is still
// relayed verbatim; 4xx passes through as a breaker success. When the breaker
// refuses or the backend produces no response, a structured 503 is written.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	route, ok := rt.MatchRoute(r.URL.Path)
	if !ok {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.RouteNotFound, "no matching route")
		return
	}

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	var resp *http.Response
	err := route.Breaker.Do(r.Context(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, route.Timeout)
		defer cancel()

		upstream, rerr := rt.roundTrip(ctx, route, r)
		if rerr != nil {
			return rerr
		}
		resp = upstream
		if resp.StatusCode >= 500 {
			return fmt.Errorf("backend returned %d", resp.StatusCode)
		}
		return nil
	})

	status := rt.relay(w, r, route, resp, err, start)

	statusStr := strconv.Itoa(status)
	metrics.RequestsTotal.WithLabelValues(route.Name, r.Method, statusStr).Inc()
	metrics.RequestDuration.WithLabelValues(route.Name, r.Method).Observe(time.Since(start).Seconds())
}

// relay writes the final client response and returns its status code.
func (rt *Router) relay(w http.ResponseWriter, r *http.Request, route Route, resp *http.Response, err error, start time.Time) int {
	if resp == nil {
		// No backend response: either the breaker refused the call or the
		// backend was unreachable. Both are 503, with distinct envelopes.
		var oe *fault.OpenError
		if errors.As(err, &oe) {
			metrics.BackendErrors.WithLabelValues(route.Name, "circuit_open").Inc()
			rt.logger.Warn("request refused, circuit open",
				"route", route.Name,
				"path", r.URL.Path,
				"retry_after", oe.RetryAfter,
			)
			apierror.WriteCircuitOpen(w, r, route.Name, oe.RetryAfter)
			return http.StatusServiceUnavailable
		}

		metrics.BackendErrors.WithLabelValues(route.Name, "unreachable").Inc()
		rt.logger.Error("backend unreachable",
			"route", route.Name,
			"backend", route.Backend.String(),
			"path", r.URL.Path,
			"error", err,
		)
		apierror.WriteUpstreamUnavailable(w, r, route.Name)
		return http.StatusServiceUnavailable
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		metrics.BackendErrors.WithLabelValues(route.Name, "upstream_5xx").Inc()
		rt.logger.Warn("backend error relayed",
			"route", route.Name,
			"status", resp.StatusCode,
			"path", r.URL.Path,
		)
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("X-Gateway-Latency", time.Since(start).String())
	w.WriteHeader(resp.StatusCode)
	if _, cerr := io.Copy(w, resp.Body); cerr != nil {
		rt.logger.Debug("response relay interrupted", "route", route.Name, "error", cerr)
	}
	return resp.StatusCode
}

// roundTrip forwards the request to the route's backend and returns the raw
// response. The response body is NOT read here; relay streams it.
func (rt *Router) roundTrip(ctx context.Context, route Route, r *http.Request) (*http.Response, error) {
	target := *route.Backend
	target.Path = singleJoin(route.Backend.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("building backend request: %w", err)
	}

	copyHeaders(req.Header, r.Header)
	req.Header.Set("X-Forwarded-Host", r.Host)
	if r.RemoteAddr != "" {
		if host, _, serr := net.SplitHostPort(r.RemoteAddr); serr == nil {
			appendForwardedFor(req.Header, host)
		}
	}
	req.ContentLength = r.ContentLength

	resp, err := rt.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling backend %s: %w", route.Backend.Host, err)
	}
	return resp, nil
}

// hopHeaders are connection-scoped headers that must not be forwarded in
// either direction (RFC 7230 section 6.1).
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vals := range src {
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

func appendForwardedFor(h http.Header, ip string) {
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+ip)
		return
	}
	h.Set("X-Forwarded-For", ip)
}

func singleJoin(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}

