// Package objectstore guards the marketplace's listing-image storage with a
// circuit breaker and retries. Image storage is non-critical: when the store
// is unavailable the adapter fails open, returning an absent ObjectRef so the
// enclosing request (for example, creating a listing) proceeds without an
// image instead of failing outright.
package objectstore

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/retry"
)

// Client is the opaque object-store capability: put and delete by key.
// Put returns the public URL of the stored object.
type Client interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ObjectRef identifies a stored object. A nil ref means the object was not
// stored (degraded mode).
type ObjectRef struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Store wraps a Client with breaker admission and retries.
type Store struct {
	client  Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	logger  *slog.Logger
}

// New creates a Store. The retry policy matches the database adapter:
// 3 attempts, 1s exponential backoff, immediate abort when the breaker is open.
func New(client Client, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:  client,
		breaker: breaker,
		policy:  retry.Default,
		logger:  logger,
	}
}

// Upload stores an object. On any failure, including breaker-open, it returns
// (nil, nil): the caller proceeds without the object and the failure is only
// visible in logs and breaker stats. The payload is taken as a byte slice so
// each retry attempt sends a fresh reader.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (*ObjectRef, error) {
	var url string
	err := retry.Do(ctx, s.breaker.Name(), s.policy, func(ctx context.Context) error {
		return s.breaker.Do(ctx, func(ctx context.Context) error {
			var perr error
			url, perr = s.client.Put(ctx, key, bytes.NewReader(data), contentType)
			return perr
		})
	})
	if err != nil {
		s.logger.Warn("object upload skipped, continuing without object",
			"service", s.breaker.Name(), "key", key, "error", err)
		return nil, nil
	}
	return &ObjectRef{Key: key, URL: url}, nil
}

// Remove deletes an object. Failures are swallowed the same way as Upload:
// an orphaned object is preferable to a failed user request, and a cleanup
// job reconciles leftovers.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := retry.Do(ctx, s.breaker.Name(), s.policy, func(ctx context.Context) error {
		return s.breaker.Do(ctx, func(ctx context.Context) error {
			return s.client.Delete(ctx, key)
		})
	})
	if err != nil {
		s.logger.Warn("object delete skipped",
			"service", s.breaker.Name(), "key", key, "error", err)
	}
	return nil
}

// Stats exposes the underlying breaker snapshot.
func (s *Store) Stats() circuitbreaker.Stats {
	return s.breaker.Stats()
}
