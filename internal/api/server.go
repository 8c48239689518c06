// Package api serves the control plane over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/sadrn/internal/controller"
	"procodus.dev/sadrn/pkg/metrics"
)

var (
	errConfigRequired       = errors.New("server config cannot be nil")
	errLoggerRequired       = errors.New("logger cannot be nil")
	errControlPlaneRequired = errors.New("control plane cannot be nil")
	errInvalidPort          = errors.New("HTTP port must be positive")
)

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger       *slog.Logger
	ControlPlane *controller.ControlPlane

	// HTTP server configuration
	HTTPPort int

	// Metrics is the optional HTTP metrics collector
	Metrics *metrics.HTTPMetrics
	// MetricsHandler serves /metrics, metrics.Handler() when nil
	MetricsHandler http.Handler
}

// Server is the controller HTTP server. It also drives the control plane
// background tasks for its lifetime.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	cp         *controller.ControlPlane
	httpServer *http.Server
	handler    http.Handler
	background sync.WaitGroup
}

// NewServer creates a new API Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errConfigRequired
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.ControlPlane == nil {
		return nil, errControlPlaneRequired
	}
	if cfg.HTTPPort <= 0 {
		return nil, errInvalidPort
	}

	s := &Server{
		logger: cfg.Logger,
		config: cfg,
		cp:     cfg.ControlPlane,
	}
	s.handler = withCORS(withMetrics(cfg.Metrics, s.setupRoutes()))
	return s, nil
}

// Handler returns the HTTP handler with every route and middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the control plane tasks and the HTTP server and blocks until
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.cp.Run(ctx)
	}()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			runErr = err
		}
	}
	cancel()

	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops the HTTP server and waits for the control plane
// tasks to finish. The control plane stops when the Run context ends.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down API server")

	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	s.background.Wait()

	if shutdownErr != nil {
		return shutdownErr
	}
	s.logger.Info("API server shutdown completed successfully")
	return nil
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	metricsHandler := s.config.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = metrics.Handler()
	}
	mux.Handle("GET /metrics", metricsHandler)

	mux.HandleFunc("GET /api/topology", s.handleTopology)
	mux.HandleFunc("GET /api/routes", s.handleRoutes)
	mux.HandleFunc("GET /api/intent", s.handleGetIntent)
	mux.HandleFunc("PUT /api/intent", s.handleSetIntent)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/packet_stats", s.handlePacketStats)
	mux.HandleFunc("GET /api/packets", s.handlePackets)
	mux.HandleFunc("PUT /api/sensors/{id}", s.handleSetSensor)
	mux.HandleFunc("PUT /api/switches/{id}/battery", s.handleSetBattery)
	mux.HandleFunc("POST /api/switches/{id}/fail", s.handleFailure(s.cp.FailSwitch))
	mux.HandleFunc("POST /api/switches/{id}/restore", s.handleFailure(s.cp.RestoreSwitch))
	mux.HandleFunc("POST /api/links/{id}/fail", s.handleFailure(s.cp.FailLink))
	mux.HandleFunc("POST /api/links/{id}/restore", s.handleFailure(s.cp.RestoreLink))
	mux.HandleFunc("POST /api/auto_packets", s.handleAutoPackets)
	mux.HandleFunc("POST /api/reset", s.handleReset)

	return mux
}
