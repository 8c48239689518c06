package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ControlPlaneMetrics contains Prometheus metrics for the controller service.
type ControlPlaneMetrics struct {
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec
	EventsTotal         *prometheus.CounterVec
	PacketsTotal        *prometheus.CounterVec
	ReachableGateways   prometheus.Gauge
	ActiveIntent        *prometheus.GaugeVec
	SwitchBattery       *prometheus.GaugeVec
	OutboxDepth         prometheus.Gauge
	OutboxDropped       *prometheus.CounterVec
}

// NewControlPlaneMetrics creates control plane metrics and registers them
// with reg, or with the global registry when reg is nil.
func NewControlPlaneMetrics(namespace string, reg prometheus.Registerer) *ControlPlaneMetrics {
	m := &ControlPlaneMetrics{
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controlplane",
				Name:      "transactions_total",
				Help:      "Total number of control plane transactions",
			},
			[]string{"op", "result"}, // result: changed, noop, error
		),
		TransactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "controlplane",
				Name:      "transaction_duration_seconds",
				Help:      "Duration of control plane transactions including route recomputation",
				Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
			},
			[]string{"op"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controlplane",
				Name:      "events_total",
				Help:      "Total number of events appended to the event log",
			},
			[]string{"type", "severity"},
		),
		PacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "simulated_total",
				Help:      "Total number of simulated packets",
			},
			[]string{"outcome"}, // outcome: forwarded, dropped
		),
		ReachableGateways: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "routing",
				Name:      "reachable_gateways",
				Help:      "Number of gateways with a route to the control center",
			},
		),
		ActiveIntent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "routing",
				Name:      "active_intent",
				Help:      "Active routing intent (1 for the current intent, 0 otherwise)",
			},
			[]string{"intent"},
		),
		SwitchBattery: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "topology",
				Name:      "switch_battery_percent",
				Help:      "Battery level of each switch",
			},
			[]string{"switch"},
		),
		OutboxDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "depth",
				Help:      "Number of messages waiting to be published",
			},
		),
		OutboxDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "dropped_total",
				Help:      "Total number of stream messages dropped because the outbox was full",
			},
			[]string{"kind"},
		),
	}

	mustRegisterWith(reg,
		m.TransactionsTotal,
		m.TransactionDuration,
		m.EventsTotal,
		m.PacketsTotal,
		m.ReachableGateways,
		m.ActiveIntent,
		m.SwitchBattery,
		m.OutboxDepth,
		m.OutboxDropped,
	)

	return m
}
