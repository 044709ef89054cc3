// Package peersync guards synchronous HTTP calls between marketplace
// services (for example the bid service fetching a listing snapshot from the
// listing service). Sync calls are never fatal to the caller: when the
// breaker is open or the peer fails, the last known good response is served
// from an in-process LRU cache and flagged as stale, so the caller can
// continue with slightly outdated data.
package peersync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
)

// ErrSyncSkipped indicates the peer could not be reached and no cached value
// exists; the caller should continue with local data.
var ErrSyncSkipped = errors.New("peer sync skipped")

const defaultCacheSize = 512

// Syncer performs breaker-guarded GET/POST calls against one peer service.
type Syncer struct {
	name    string
	base    *url.URL
	http    *http.Client
	breaker *circuitbreaker.Breaker
	cache   *lru.Cache[string, []byte]
	logger  *slog.Logger
}

// New creates a Syncer for the peer at baseURL.
func New(name, baseURL string, breaker *circuitbreaker.Breaker, logger *slog.Logger) (*Syncer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid peer URL %q: %w", baseURL, err)
	}
	cache, err := lru.New[string, []byte](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating sync cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		name:    name,
		base:    u,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
		cache:   cache,
		logger:  logger,
	}, nil
}

// Get fetches path from the peer and decodes the JSON body into out.
// The returned stale flag is true when the live call failed and the value
// came from the cache. When there is no cached value either, ErrSyncSkipped
// is returned (wrapped around the cause); callers treat it as "continue with
// local data", never as a fatal condition.
func (s *Syncer) Get(ctx context.Context, path string, out any) (stale bool, err error) {
	var body []byte
	var rejected error
	callErr := s.breaker.Do(ctx, func(ctx context.Context) error {
		var ferr error
		body, ferr = s.roundTrip(ctx, http.MethodGet, path, nil)
		// A peer 4xx is a legitimate answer, not an infrastructure
		// failure: surface it to the caller without poisoning the breaker.
		var re *rejectionError
		if errors.As(ferr, &re) {
			rejected = ferr
			return nil
		}
		return ferr
	})

	if rejected != nil {
		return false, rejected
	}
	if callErr == nil {
		s.cache.Add(path, body)
		return false, json.Unmarshal(body, out)
	}

	if cached, ok := s.cache.Get(path); ok {
		s.logger.Warn("peer sync failed, serving cached value",
			"peer", s.name, "path", path, "error", callErr)
		return true, json.Unmarshal(cached, out)
	}

	s.logger.Warn("peer sync skipped, no cached value",
		"peer", s.name, "path", path, "error", callErr)
	return false, fmt.Errorf("%w: %w", ErrSyncSkipped, callErr)
}

// Post sends payload as JSON to path. Best effort: on breaker-open or peer
// failure the caller gets ErrSyncSkipped (wrapped) and decides whether the
// update can be deferred.
func (s *Syncer) Post(ctx context.Context, path string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	var rejected error
	callErr := s.breaker.Do(ctx, func(ctx context.Context) error {
		_, ferr := s.roundTrip(ctx, http.MethodPost, path, b)
		var re *rejectionError
		if errors.As(ferr, &re) {
			rejected = ferr
			return nil
		}
		return ferr
	})
	if rejected != nil {
		return rejected
	}
	if callErr != nil {
		s.logger.Warn("peer update skipped", "peer", s.name, "path", path, "error", callErr)
		return fmt.Errorf("%w: %w", ErrSyncSkipped, callErr)
	}
	return nil
}

// rejectionError marks a peer 4xx response.
type rejectionError struct {
	status int
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("peer rejected request: %d", e.status)
}

// Stats exposes the underlying breaker snapshot.
func (s *Syncer) Stats() circuitbreaker.Stats {
	return s.breaker.Stats()
}

func (s *Syncer) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base.JoinPath(path).String(), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling peer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("peer returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading peer response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &rejectionError{status: resp.StatusCode}
	}
	return body, nil
}
