// Package server exposes the agent's health, status, opportunity history,
// prometheus metrics and a live websocket feed over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftarb/internal/server/handler"
	"github.com/alanyoungcy/nftarb/internal/server/middleware"
	"github.com/alanyoungcy/nftarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Port to listen on, on all interfaces.
	Port int

	// APIKey guards the status, history and websocket routes. Empty
	// disables authentication.
	APIKey string

	// CORSOrigins are the browser origins allowed to call the API.
	CORSOrigins []string
}

// Handlers aggregates the route handlers. Metrics and Hub may be nil.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Opportunities *handler.OpportunityHandler
	Metrics       http.Handler
	Hub           *ws.Hub
}

// Server is the status API server. It wraps net/http with the routes and
// middleware of this agent and a bounded header read time.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes. Health and metrics are public so that
// orchestrators and Prometheus need no credentials; everything else sits
// behind the API key.
//
// Middleware order, outermost first: CORS, so preflight requests are
// answered before auth; then logging; then auth on the protected mux.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListRecent)
	if handlers.Hub != nil {
		api.HandleFunc("GET /ws", handlers.Hub.HandleWS)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		root.Handle("GET /metrics", handlers.Metrics)
	}
	root.Handle("/", middleware.Auth(cfg.APIKey)(api))

	// Applied inside out.
	var h http.Handler = root
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the composed handler. Tests drive it with httptest
// without opening a port.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown. A normal shutdown returns nil; any other
// listen failure, such as the port being taken, is returned.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. Hijacked websocket connections are not waited on; the
// hub closes them when its context ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
