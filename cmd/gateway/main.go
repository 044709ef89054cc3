// Package main is the entry point for the auction gateway. It loads
// configuration, builds the per-route circuit breakers and middleware stack,
// starts the HTTP server, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openbid/auction-gateway/internal/admin"
	"github.com/openbid/auction-gateway/internal/auth"
	"github.com/openbid/auction-gateway/internal/circuitbreaker"
	"github.com/openbid/auction-gateway/internal/config"
	"github.com/openbid/auction-gateway/internal/health"
	"github.com/openbid/auction-gateway/internal/logging"
	"github.com/openbid/auction-gateway/internal/metrics"
	"github.com/openbid/auction-gateway/internal/middleware"
	"github.com/openbid/auction-gateway/internal/proxy"
	"github.com/openbid/auction-gateway/internal/ratelimit"
	"github.com/openbid/auction-gateway/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"routes", len(cfg.Routes),
		"auth_enabled", cfg.Auth.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"breaker_failure_threshold", cfg.Breaker.FailureThreshold,
		"breaker_timeout_ms", cfg.Breaker.TimeoutMs,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// One breaker per route, registered under the route name.
	registry := circuitbreaker.NewRegistry()
	router, err := proxy.New(cfg.Routes, cfg.Breaker, registry, logger)
	if err != nil {
		logger.Error("failed to create proxy router", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(cfg.RateLimit, cfg.Routes, cfg.Server.TrustedProxies, logger)
	defer limiter.Stop()

	routeRequiresAuth := func(path string) bool {
		route, ok := router.MatchRoute(path)
		return ok && route.AuthRequired
	}

	// Recovery → RequestID → SecurityHeaders → Deadline → Logging → CORS →
	// BodyLimit → RateLimit → Auth → Proxy
	var handler http.Handler = router
	handler = auth.Middleware(cfg.Auth, routeRequiresAuth, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Deadline(cfg.Server.GlobalTimeout())(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Operational endpoints bypass the proxy middleware stack.
	mux := http.NewServeMux()
	health.New(registry, logger).RegisterRoutes(mux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		mux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	// Only rate limits hot-reload; route and breaker changes need a restart.
	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	if cfg.Admin.Enabled {
		admin.New(registry, reloader, limiter, cfg.Admin.IPAllowlist, logger).RegisterRoutes(mux)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") ||
			strings.HasPrefix(r.URL.Path, "/circuit-breakers") ||
			(cfg.Admin.Enabled && strings.HasPrefix(r.URL.Path, "/admin/")) ||
			(cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath) {
			mux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		certLoader, err = tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			logger.Error("failed to load TLS certificate", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()
		srv.TLSConfig = &tls.Config{
			GetCertificate: certLoader.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}
	}

	go func() {
		logger.Info("starting gateway", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped gracefully")
}
