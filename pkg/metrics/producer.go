package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProducerMetrics contains Prometheus metrics for the remote sensor
// producers.
type ProducerMetrics struct {
	ReadingsSent    *prometheus.CounterVec
	PushFailures    *prometheus.CounterVec
	PushDuration    prometheus.Histogram
	ActiveProducers prometheus.Gauge
	Spikes          prometheus.Counter
}

// NewProducerMetrics creates producer metrics and registers them with reg,
// or with the global registry when reg is nil.
func NewProducerMetrics(namespace string, reg prometheus.Registerer) *ProducerMetrics {
	m := &ProducerMetrics{
		ReadingsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "readings_sent_total",
				Help:      "Total number of sensor readings accepted by the controller",
			},
			[]string{"sensor"},
		),
		PushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "push_failures_total",
				Help:      "Total number of sensor readings the controller did not accept",
			},
			[]string{"reason"}, // reason: rejected, unavailable
		),
		PushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "push_duration_seconds",
				Help:      "Duration of sensor reading pushes including retries",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveProducers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "active_producers",
				Help:      "Number of currently running sensor producers",
			},
		),
		Spikes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "spikes_total",
				Help:      "Total number of readings drawn from the emergency band",
			},
		),
	}

	mustRegisterWith(reg,
		m.ReadingsSent,
		m.PushFailures,
		m.PushDuration,
		m.ActiveProducers,
		m.Spikes,
	)

	return m
}
