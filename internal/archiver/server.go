package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/mq"
)

const consumerStopTimeout = 10 * time.Second

var (
	errServerConfigRequired = errors.New("server config cannot be nil")
	errStorageRequired      = errors.New("database config or store is required")
	errInvalidGRPCPort      = errors.New("gRPC port must be positive")
	errInvalidMetricsPort   = errors.New("metrics port cannot be negative")
)

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// DB is opened and migrated by Run. Ignored when Store is set.
	DB *DBConfig
	// Store overrides the PostgreSQL store.
	Store Store

	// Queue delivers the control plane stream.
	Queue mq.ClientInterface

	// gRPC configuration
	GRPCPort int

	// MetricsPort serves /metrics when positive.
	MetricsPort int
	Metrics     *metrics.ArchiverMetrics
	// MetricsHandler serves /metrics, metrics.Handler() when nil
	MetricsHandler http.Handler
}

// Server runs the stream consumer, the query service and the gRPC health
// service.
type Server struct {
	logger        *slog.Logger
	config        *ServerConfig
	db            *gorm.DB
	consumer      *Consumer
	stopConsumer  context.CancelFunc
	grpcServer    *grpc.Server
	health        *health.Server
	metricsServer *http.Server
}

// NewServer creates a new archiver Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errServerConfigRequired
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.Queue == nil {
		return nil, errQueueRequired
	}
	if cfg.DB == nil && cfg.Store == nil {
		return nil, errStorageRequired
	}
	if cfg.GRPCPort <= 0 {
		return nil, errInvalidGRPCPort
	}
	if cfg.MetricsPort < 0 {
		return nil, errInvalidMetricsPort
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the archiver and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting archiver server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	store := s.config.Store
	if store == nil {
		cfg := *s.config.DB
		cfg.Logger = s.logger
		db, err := NewDB(&cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		s.db = db
		gs, err := NewGormStore(db, s.config.Metrics)
		if err != nil {
			return err
		}
		store = gs
		s.logger.Info("database initialized successfully")
	}

	consumer, err := NewConsumer(&ConsumerConfig{
		Logger:  s.logger,
		Queue:   s.config.Queue,
		Store:   store,
		Metrics: s.config.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}
	s.consumer = consumer

	consumerCtx, stop := context.WithCancel(ctx)
	s.stopConsumer = stop
	if err := s.consumer.Start(consumerCtx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	query, err := NewQueryService(s.logger, store, s.config.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize query service: %w", err)
	}

	s.grpcServer = grpc.NewServer()
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	RegisterQueryServer(s.grpcServer, query)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(QueryServiceName, healthpb.HealthCheckResponse_SERVING)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	s.logger.Info("starting gRPC server", "address", grpcAddr)

	serveErr := make(chan error, 2)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	if s.config.MetricsPort > 0 {
		handler := s.config.MetricsHandler
		if handler == nil {
			handler = metrics.Handler()
		}
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", handler)
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.logger.Info("starting metrics server", "address", s.metricsServer.Addr)
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	s.logger.Info("archiver server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		s.logger.Error("server error", "error", err)
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			return fmt.Errorf("%w; %w", err, shutdownErr)
		}
		return err
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down archiver server")

	var errs []error

	if s.health != nil {
		s.health.Shutdown()
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.logger.Info("gRPC server stopped")
	}

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown error: %w", err))
		}
		cancel()
	}

	if s.consumer != nil {
		s.logger.Info("stopping consumer")
		s.stopConsumer()
		select {
		case <-s.consumer.Done():
		case <-time.After(consumerStopTimeout):
			errs = append(errs, errors.New("consumer did not stop in time"))
		}
	}

	if err := s.config.Queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("queue close error: %w", err))
	}

	if s.db != nil {
		if err := CloseDB(s.db, s.logger); err != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("archiver server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("archiver server shutdown completed successfully")
	return nil
}
