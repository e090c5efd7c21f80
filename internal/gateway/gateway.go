// ABOUTME: Gateway orchestrator that wires the decision layer behind an HTTP server.
// ABOUTME: Manages startup and shutdown of the prober and the API endpoints.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/glinthq/glint-gateway/internal/auth"
	"github.com/glinthq/glint-gateway/internal/breaker"
	"github.com/glinthq/glint-gateway/internal/dedupe"
	"github.com/glinthq/glint-gateway/internal/dispatch"
	"github.com/glinthq/glint-gateway/internal/health"
	"github.com/glinthq/glint-gateway/internal/passport"
	"github.com/glinthq/glint-gateway/internal/registry"
	"github.com/glinthq/glint-gateway/internal/search"
	"github.com/glinthq/glint-gateway/internal/store"
)

// Config carries the gateway's collaborators, constructed by the caller.
type Config struct {
	HTTPAddr  string
	Store     store.Store
	Registry  *registry.Registry
	Breaker   *breaker.Breaker
	Tracker   *health.Tracker
	Prober    *health.Prober
	Router    *dispatch.Router
	Passports *passport.Service
	Index     *search.Index
	// Dedupe guards /api/call against replayed request IDs. Optional.
	Dedupe *dedupe.Cache
	// Verifier guards the mutating endpoints with bearer authentication.
	// When nil the API runs open.
	Verifier auth.TokenVerifier
	TopK     int
	Logger   *slog.Logger
}

// Gateway exposes the decision layer over HTTP and owns the probe loop's
// lifecycle.
type Gateway struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	authWrap   func(http.Handler) http.Handler
}

// New creates a Gateway from the given configuration.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = search.DefaultTopK
	}

	g := &Gateway{
		cfg:    cfg,
		logger: logger.With("component", "gateway"),
	}
	if cfg.Verifier != nil {
		g.authWrap = auth.HTTPAuthMiddleware(cfg.Verifier)
	}

	mux := http.NewServeMux()
	g.registerRoutes(mux)
	g.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// registerRoutes attaches all API handlers to the mux. Read-only endpoints
// stay open; mutating ones go through the auth middleware when a verifier
// is configured.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/health", g.handleHealth)
	mux.HandleFunc("/api/call", g.protected(g.handleCall))
	mux.HandleFunc("/api/tools/search", g.handleToolSearch)
	mux.HandleFunc("/api/backends", g.handleListBackends)
	mux.HandleFunc("/api/backends/", g.handleBackendRoutes)
	mux.HandleFunc("/api/passports/", g.handlePassportRoutes)
	mux.HandleFunc("/api/audit", g.handleListAudit)
}

// protected wraps a handler with bearer authentication. Identity handler
// when no verifier is configured.
func (g *Gateway) protected(next http.HandlerFunc) http.HandlerFunc {
	if g.authWrap == nil {
		return next
	}
	return g.authWrap(next).ServeHTTP
}

// Start begins serving HTTP and starts the probe loop. Blocks until the
// context is cancelled or the server fails.
func (g *Gateway) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.cfg.HTTPAddr, err)
	}

	if g.cfg.Prober != nil {
		g.cfg.Prober.Start()
	}
	g.logger.Info("gateway listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return g.Shutdown()
	}
}

// Shutdown stops the probe loop and drains the HTTP server.
func (g *Gateway) Shutdown() error {
	g.logger.Info("gateway shutting down")

	if g.cfg.Prober != nil {
		g.cfg.Prober.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
