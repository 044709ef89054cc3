package middleware

import (
	"net/http"

	"github.com/openbid/auction-gateway/internal/apierror"
)

// BodyLimit returns middleware that rejects request bodies larger than
// maxBytes with a 413. Content-Length is checked up front for an early
// reject; http.MaxBytesReader covers chunked and streaming bodies.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				apierror.WriteJSON(w, r, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge, "request body exceeds maximum allowed size")
				return
			}
			if r.Body != nil && r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
