package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics covers the RabbitMQ event stream between the controller and
// the archiver.
type StreamMetrics struct {
	EnvelopesPublished *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	PublishRetries     *prometheus.CounterVec
	PublishDuration    *prometheus.HistogramVec
	Subscriptions      *prometheus.CounterVec
	Reconnects         prometheus.Counter
	BrokerConnected    prometheus.Gauge
}

// NewStreamMetrics creates stream metrics and registers them with reg, or
// with the global registry when reg is nil.
func NewStreamMetrics(namespace string, reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		EnvelopesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "envelopes_published_total",
				Help:      "Event and packet envelopes confirmed by the broker",
			},
			[]string{"queue", "kind"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "publish_failures_total",
				Help:      "Envelopes given up on, by reason",
			},
			[]string{"queue", "kind", "reason"},
		),
		PublishRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "publish_retries_total",
				Help:      "Publish attempts that had to be retried",
			},
			[]string{"queue", "kind"},
		),
		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "publish_duration_seconds",
				Help:      "Time from publish to broker confirmation, retries included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue", "kind"},
		),
		Subscriptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "subscriptions_total",
				Help:      "Consumer subscriptions opened on the queue",
			},
			[]string{"queue"},
		),
		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "broker_reconnects_total",
				Help:      "Connection attempts to the broker",
			},
		),
		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "broker_connected",
				Help:      "1 while connected to the broker, 0 otherwise",
			},
		),
	}

	mustRegisterWith(reg,
		m.EnvelopesPublished,
		m.PublishFailures,
		m.PublishRetries,
		m.PublishDuration,
		m.Subscriptions,
		m.Reconnects,
		m.BrokerConnected,
	)

	return m
}
