// Package routing provides the shared path-prefix matcher used by the proxy,
// rate limiter, and auth middleware.
package routing

import "strings"

// MatchesPrefix reports whether path falls under prefix with segment-boundary
// enforcement: "/api/bids" matches "/api/bids" and "/api/bids/7" but not
// "/api/bidsx".
func MatchesPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	if prefix[len(prefix)-1] == '/' {
		return true
	}
	return path[len(prefix)] == '/'
}
