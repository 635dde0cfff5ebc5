// Package httpapi is the HTTP+WebSocket front door (spec §4.I / §6),
// grounded on the teacher's internal/http/server.go: go-chi/chi router,
// danielgtaylor/huma typed operations over it, the same middleware
// stack (request-id, logging, recovery, CORS, compression), plus a
// gorilla/websocket upgrade endpoint for Observer connections that the
// teacher has no equivalent of.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/httpapi/middleware"
	"github.com/streamcore/streamcore/internal/observability"
)

// Server is the HTTP server hosting the command surface, the metrics
// endpoint, and the Observer WebSocket upgrade.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a Server with the full middleware stack wired, ready
// for handlers to Register themselves against API()/Router().
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string) *Server {
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))
	router.Use(middleware.SkipCompressionForWebSocket(chimiddleware.Compress(5)))

	router.Handle("/metrics", promhttp.Handler())

	humaConfig := huma.DefaultConfig("streamcore API", version)
	humaConfig.Info.Description = "Media stream detection and download orchestration backend"

	api := humachi.New(router, humaConfig)

	return &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		logger: observability.WithComponent(logger, "httpapi"),
	}
}

// API returns the huma.API for operation registration.
func (s *Server) API() huma.API { return s.api }

// Router returns the chi.Mux for registering raw handlers (the
// WebSocket upgrade endpoint, health check).
func (s *Server) Router() *chi.Mux { return s.router }

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	addr := s.cfg.Address()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting HTTP server", slog.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within cfg.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server", slog.Duration("timeout", s.cfg.ShutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
