package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"procodus.dev/sadrn/internal/topology"
	"procodus.dev/sadrn/pkg/generator"
	"procodus.dev/sadrn/pkg/metrics"
)

// ServerConfig holds the configuration for the producer server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// Client reaches the controller
	Client *Client
	// Interval is the time between readings of one sensor
	Interval time.Duration
	// SpikeProbability is the chance of a reading in the emergency band
	SpikeProbability float64
	// Seed seeds the reading generator, 0 picks one
	Seed uint64
	// Sensors restricts the producers to these ids, all sensors when empty
	Sensors []string
	// DiscoveryInterval is the wait between attempts to list sensors
	// while the controller is unreachable
	DiscoveryInterval time.Duration
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.ProducerMetrics
}

// Server runs one producer per sensor.
type Server struct {
	logger  *slog.Logger
	config  *ServerConfig
	wg      sync.WaitGroup
	metrics *metrics.ProducerMetrics
}

var (
	errConfigRequired  = errors.New("producer config cannot be nil")
	errClientRequired  = errors.New("controller client is required")
	errInvalidInterval = errors.New("interval must be greater than 0")
	errLoggerRequired  = errors.New("logger is required")
	errNoSensors       = errors.New("no sensors to produce readings for")
)

// NewServer creates a new producer server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errConfigRequired
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.Client == nil {
		return nil, errClientRequired
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 2 * time.Second
	}
	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}, nil
}

// Run discovers the sensors, starts all producers and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	sensors, err := s.discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	gen := generator.NewReadingGenerator(s.config.Seed, s.config.SpikeProbability)
	for _, sensor := range sensors {
		p := NewProducer(sensor, s.config.Client, gen, s.logger, s.metrics)
		s.wg.Add(1)
		go s.runProducer(ctx, p)
	}

	s.logger.Info("producer server started",
		"producer_count", len(sensors),
		"interval", s.config.Interval,
	)

	<-ctx.Done()

	s.logger.Info("waiting for producers to shut down...")
	s.wg.Wait()
	s.logger.Info("producer server stopped")
	return nil
}

// discover lists the sensors, retrying until the controller answers.
func (s *Server) discover(ctx context.Context) ([]topology.Sensor, error) {
	for {
		sensors, err := s.config.Client.Sensors(ctx)
		if err == nil {
			return s.selectSensors(sensors)
		}
		s.logger.Warn("controller not reachable, retrying", "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.DiscoveryInterval):
		}
	}
}

func (s *Server) selectSensors(all []topology.Sensor) ([]topology.Sensor, error) {
	if len(s.config.Sensors) == 0 {
		if len(all) == 0 {
			return nil, errNoSensors
		}
		return all, nil
	}
	var out []topology.Sensor
	for _, id := range s.config.Sensors {
		i := slices.IndexFunc(all, func(sn topology.Sensor) bool { return sn.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("sensor %q: %w", id, topology.ErrNotFound)
		}
		out = append(out, all[i])
	}
	return out, nil
}

// runProducer pushes a reading every interval until ctx ends.
func (s *Server) runProducer(ctx context.Context, p *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log := s.logger.With(slog.String("sensor_id", p.SensorID()))
	log.Info("producer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("producer shutting down")
			return
		case <-ticker.C:
			if err := p.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				// Keep going, the next tick retries.
				log.Error("failed to push reading", "error", err)
			}
		}
	}
}
