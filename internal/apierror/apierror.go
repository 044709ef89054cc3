// Package apierror provides the standardized JSON error envelope for the
// gateway. Every failure path — unmatched route, breaker open, backend
// unreachable, auth or rate-limit rejection — terminates in one of these
// well-formed responses; raw transport errors never reach the client.
package apierror

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorCode is a machine-readable error classification. Codes are a public
// contract for clients and operational tooling; do not rename existing codes.
type ErrorCode string

const (
	RouteNotFound       ErrorCode = "GATEWAY_ROUTE_NOT_FOUND"
	BreakerNotFound     ErrorCode = "GATEWAY_BREAKER_NOT_FOUND"
	MethodNotAllowed    ErrorCode = "GATEWAY_METHOD_NOT_ALLOWED"
	CircuitOpen         ErrorCode = "GATEWAY_CIRCUIT_OPEN"
	UpstreamUnavailable ErrorCode = "GATEWAY_UPSTREAM_UNAVAILABLE"
	AuthMissingToken    ErrorCode = "GATEWAY_AUTH_MISSING_TOKEN"
	AuthInvalidToken    ErrorCode = "GATEWAY_AUTH_INVALID_TOKEN"
	RateLimitExceeded   ErrorCode = "GATEWAY_RATE_LIMIT_EXCEEDED"
	BodyTooLarge        ErrorCode = "GATEWAY_BODY_TOO_LARGE"
	DeadlineExceeded    ErrorCode = "GATEWAY_DEADLINE_EXCEEDED"
	InternalError       ErrorCode = "GATEWAY_INTERNAL_ERROR"
)

// ErrorResponse is the standardized error body. ServiceName and RetryAfter
// are populated only for breaker-related responses.
type ErrorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	ServiceName string `json:"serviceName,omitempty"`
	Timestamp   string `json:"timestamp"`
	RetryAfter  int    `json:"retryAfter,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

// WriteJSON writes a structured error response. The request may be nil when
// no X-Request-ID propagation is possible.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	write(w, r, status, ErrorResponse{
		Error:   string(code),
		Message: message,
	})
}

// WriteCircuitOpen writes the 503 response for a refused call: the backend
// was never contacted. retryAfter is rounded up to whole seconds and also
// emitted as a Retry-After header.
func WriteCircuitOpen(w http.ResponseWriter, r *http.Request, service string, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	write(w, r, http.StatusServiceUnavailable, ErrorResponse{
		Error:       string(CircuitOpen),
		Message:     "service temporarily degraded, circuit breaker open",
		ServiceName: service,
		RetryAfter:  secs,
	})
}

// WriteUpstreamUnavailable writes the 503 response for a backend that
// produced no HTTP response at all.
func WriteUpstreamUnavailable(w http.ResponseWriter, r *http.Request, service string) {
	write(w, r, http.StatusServiceUnavailable, ErrorResponse{
		Error:       string(UpstreamUnavailable),
		Message:     "service unavailable, no response from backend",
		ServiceName: service,
	})
}

func write(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if r != nil {
		body.RequestID = r.Header.Get("X-Request-ID")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

