// Package producer runs remote field sensors that push synthetic readings to
// the controller over its HTTP API.
package producer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"procodus.dev/sadrn/internal/topology"
	"procodus.dev/sadrn/pkg/generator"
	"procodus.dev/sadrn/pkg/metrics"
)

// Pusher delivers readings to the controller.
type Pusher interface {
	PushReading(ctx context.Context, id string, value float64) (topology.Sensor, error)
}

// Producer generates and pushes readings for one sensor.
type Producer struct {
	pusher  Pusher
	gen     *generator.ReadingGenerator
	profile generator.Profile
	logger  *slog.Logger
	metrics *metrics.ProducerMetrics

	mu      sync.Mutex
	current float64
	status  topology.Priority
}

// NewProducer returns a producer for s starting from its current value.
func NewProducer(s topology.Sensor, pusher Pusher, gen *generator.ReadingGenerator, logger *slog.Logger, m *metrics.ProducerMetrics) *Producer {
	return &Producer{
		pusher: pusher,
		gen:    gen,
		profile: generator.Profile{
			SensorID:  s.ID,
			Warning:   s.ThresholdWarning,
			Emergency: s.ThresholdEmergency,
		},
		logger:  logger.With(slog.String("sensor_id", s.ID)),
		metrics: m,
		current: s.Value,
		status:  s.Status,
	}
}

// SensorID returns the id of the sensor this producer feeds.
func (p *Producer) SensorID() string {
	return p.profile.SensorID
}

// Current returns the last value accepted by the controller.
func (p *Producer) Current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Step generates one reading and pushes it. A rejected or failed push
// leaves the current value unchanged so the next step retries from it.
func (p *Producer) Step(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.gen.Next(p.profile, p.current)
	if r.Spike && p.metrics != nil {
		p.metrics.Spikes.Inc()
	}

	start := time.Now()
	s, err := p.pusher.PushReading(ctx, r.SensorID, r.Value)
	if p.metrics != nil {
		p.metrics.PushDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.PushFailures.WithLabelValues(failureReason(err)).Inc()
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.ReadingsSent.WithLabelValues(r.SensorID).Inc()
	}

	if s.Status != p.status {
		p.logger.Info("sensor status changed",
			"from", p.status,
			"to", s.Status,
			"value", s.Value,
		)
	}
	p.current = s.Value
	p.status = s.Status
	p.logger.Debug("reading pushed", "value", s.Value, "spike", r.Spike)
	return nil
}

func failureReason(err error) string {
	var serr *StatusError
	if errors.As(err, &serr) && serr.Code < 500 {
		return "rejected"
	}
	return "unavailable"
}
