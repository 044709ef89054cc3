// Package ratelimit provides per-client-IP token bucket rate limiting for the
// gateway. Limits are global; the matched route name only labels metrics.
package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openbid/auction-gateway/internal/apierror"
	"github.com/openbid/auction-gateway/internal/config"
	"github.com/openbid/auction-gateway/internal/metrics"
	"github.com/openbid/auction-gateway/internal/routing"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientKey encodes IP plus the active limit so buckets created under an old
// configuration are not reused after a hot reload.
type clientKey struct {
	ip    string
	rate  rate.Limit
	burst int
}

// Limiter tracks per-client token buckets and cleans up stale entries in the
// background.
type Limiter struct {
	mu           sync.RWMutex
	clients      map[clientKey]*client
	rate         rate.Limit
	burst        int
	routes       []config.RouteConfig
	trustedCIDRs []*net.IPNet
	logger       *slog.Logger
	stopCh       chan struct{}
}

// Entry is one row of the limiter table exposed by the admin surface.
type Entry struct {
	ClientIP string    `json:"clientIp"`
	Rate     float64   `json:"rate"`
	Burst    int       `json:"burst"`
	LastSeen time.Time `json:"lastSeen"`
}

// New creates a Limiter and starts its cleanup goroutine. trustedProxies
// lists CIDRs whose X-Forwarded-For headers are trusted.
func New(cfg config.RateLimitConfig, routes []config.RouteConfig, trustedProxies []string, logger *slog.Logger) *Limiter {
	l := &Limiter{
		clients:      make(map[clientKey]*client),
		rate:         rate.Limit(cfg.RequestsPerSecond),
		burst:        cfg.BurstSize,
		routes:       routes,
		trustedCIDRs: parseCIDRs(trustedProxies, logger),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// Stop terminates the background cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

// UpdateConfig hot-reloads the rate limit settings. Existing per-client
// buckets are dropped so the new limits take effect immediately.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rate = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.BurstSize
	l.clients = make(map[clientKey]*client)
}

// Snapshot returns the current limiter table sorted by client IP.
func (l *Limiter) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, 0, len(l.clients))
	for key, c := range l.clients {
		entries = append(entries, Entry{
			ClientIP: key.ip,
			Rate:     float64(key.rate),
			Burst:    key.burst,
			LastSeen: c.lastSeen,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ClientIP < entries[j].ClientIP })
	return entries
}

// Middleware returns an HTTP middleware enforcing the rate limit.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)

			l.mu.RLock()
			currentRate, currentBurst := l.rate, l.burst
			l.mu.RUnlock()

			limiter := l.getLimiter(ip, currentRate, currentBurst)
			if !limiter.Allow() {
				l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
				metrics.RateLimitHits.WithLabelValues(l.routeName(r.URL.Path)).Inc()
				retryAfter := strconv.FormatFloat(1.0/float64(currentRate), 'f', 0, 64)
				w.Header().Set("Retry-After", retryAfter)
				apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.RateLimitExceeded, "rate limit exceeded, retry later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the real client IP. X-Forwarded-For is only trusted when
// the direct peer is in the trusted proxies list.
func (l *Limiter) clientIP(r *http.Request) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(l.trustedCIDRs) > 0 && l.isTrusted(peerIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Walk right-to-left, return the first non-trusted hop.
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !l.isTrusted(ip) {
					return ip
				}
			}
		}
	}

	return peerIP
}

func (l *Limiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range l.trustedCIDRs {
		if cidr.Contains(ip) {
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

// routeName resolves the longest matching route name for metric labels.
func (l *Limiter) routeName(path string) string {
	best := "unknown"
	bestLen := -1
	for _, route := range l.routes {
		if routing.MatchesPrefix(path, route.PathPrefix) && len(route.PathPrefix) > bestLen {
			bestLen = len(route.PathPrefix)
			best = route.Name
		}
	}
	return best
}

// getLimiter returns or creates the bucket for the given client key. Read
// lock on the common path; rate.Limiter itself is goroutine-safe so Allow
// runs outside our lock.
func (l *Limiter) getLimiter(ip string, r rate.Limit, burst int) *rate.Limiter {
	key := clientKey{ip: ip, rate: r, burst: burst}

	l.mu.RLock()
	if c, exists := l.clients[key]; exists {
		// The cleanup threshold is 3 minutes; refreshing lastSeen once a
		// minute is enough to prevent eviction of active clients.
		if time.Since(c.lastSeen) > time.Minute {
			l.mu.RUnlock()
			l.mu.Lock()
			c.lastSeen = time.Now()
			l.mu.Unlock()
		} else {
			l.mu.RUnlock()
		}
		return c.limiter
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, exists := l.clients[key]; exists {
		c.lastSeen = time.Now()
		return c.limiter
	}

	limiter := rate.NewLimiter(r, burst)
	l.clients[key] = &client{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for key, c := range l.clients {
				if time.Since(c.lastSeen) > 3*time.Minute {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}
