package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ArchiverMetrics contains Prometheus metrics for the archiver service.
type ArchiverMetrics struct {
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
	MessagesTotal       *prometheus.CounterVec
	ProcessingDuration  *prometheus.HistogramVec
	DBOperationsTotal   *prometheus.CounterVec
	DBOperationDuration *prometheus.HistogramVec
	ActiveConsumers     prometheus.Gauge
}

// NewArchiverMetrics creates archiver metrics and registers them with reg,
// or with the global registry when reg is nil.
func NewArchiverMetrics(namespace string, reg prometheus.Registerer) *ArchiverMetrics {
	m := &ArchiverMetrics{
		GRPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"}, // status: success, error
		),
		GRPCRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "request_duration_seconds",
				Help:      "Duration of gRPC requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "archiver",
				Name:      "messages_total",
				Help:      "Total number of stream messages handled by the archiver",
			},
			[]string{"kind", "result"}, // result: stored, requeued, discarded
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "archiver",
				Name:      "processing_duration_seconds",
				Help:      "Duration of stream message processing",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		DBOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),
		DBOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		ActiveConsumers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "archiver",
				Name:      "active_consumers",
				Help:      "Number of active stream consumers",
			},
		),
	}

	mustRegisterWith(reg,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.MessagesTotal,
		m.ProcessingDuration,
		m.DBOperationsTotal,
		m.DBOperationDuration,
		m.ActiveConsumers,
	)

	return m
}
