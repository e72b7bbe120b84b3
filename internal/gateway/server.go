// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"convbridge/internal/config"
	"convbridge/internal/gateway/handlers"
	"convbridge/internal/gateway/middleware"
	"convbridge/pkg/logger"
)

// Options carries the handlers mounted next to the health endpoint.
type Options struct {
	Version string
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// SlackEvents serves POST /slack/events when set (Events API mode).
	SlackEvents http.Handler
	// Checks feed /health.
	Checks []handlers.Check
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	handler     http.Handler
	config      config.GatewayConfig
	rateLimiter *middleware.RateLimiter
}

// NewServer creates a new gateway server.
func NewServer(cfg config.GatewayConfig, opts Options) *Server {
	router := mux.NewRouter()

	rlConfig := middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Enabled:           cfg.RateLimit.Enabled,
		CleanupInterval:   cfg.RateLimit.CleanupInterval,
	}
	defaults := middleware.DefaultRateLimiterConfig()
	if rlConfig.RequestsPerMinute == 0 {
		rlConfig.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if rlConfig.Burst == 0 {
		rlConfig.Burst = defaults.Burst
	}
	if rlConfig.CleanupInterval == 0 {
		rlConfig.CleanupInterval = defaults.CleanupInterval
	}
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	// Recovery -> Logging -> RateLimit
	handler := middleware.Recovery(
		middleware.Logging(
			rateLimiter.RateLimit(router),
		),
	)

	s := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		router:      router,
		handler:     handler,
		config:      cfg,
		rateLimiter: rateLimiter,
	}
	s.setupRoutes(opts)
	return s
}

// setupRoutes configures the server routes.
func (s *Server) setupRoutes(opts Options) {
	s.router.HandleFunc("/health", handlers.HealthHandler(opts.Version, opts.Checks...)).Methods(http.MethodGet)

	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	if opts.SlackEvents != nil {
		s.router.Handle("/slack/events", opts.SlackEvents).Methods(http.MethodPost)
	}

	s.router.NotFoundHandler = http.HandlerFunc(handlers.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	addr := s.config.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	handlers.InitStartTime()
	s.httpServer.Addr = ln.Addr().String()

	log := logger.Component("gateway")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("Starting gateway server")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Component("gateway")
	log.Info().Msg("Shutting down gateway server")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}
