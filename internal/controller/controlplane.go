// Package controller is the SADRN control plane. It serialises every
// mutation of the topology, keeps intent and routes consistent with it, and
// publishes an immutable view for readers.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"procodus.dev/sadrn/internal/eventlog"
	"procodus.dev/sadrn/internal/failover"
	"procodus.dev/sadrn/internal/intent"
	"procodus.dev/sadrn/internal/packets"
	"procodus.dev/sadrn/internal/routing"
	"procodus.dev/sadrn/internal/topology"
	"procodus.dev/sadrn/pkg/generator"
	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/mq"
	"procodus.dev/sadrn/pkg/wire"
)

const tracerName = "procodus.dev/sadrn/internal/controller"

// LowBattery is the level below which a switch battery is reported as
// critical.
const LowBattery = 20.0

const (
	resultChanged = "changed"
	resultNoop    = "noop"
	resultError   = "error"
)

var errLoggerRequired = errors.New("logger is required")

// View is an immutable committed state. Readers must not modify it.
type View struct {
	Graph  *topology.Graph
	Routes routing.Table
	Intent intent.State
}

// Topology is the full state returned to dashboard clients.
type Topology struct {
	*topology.Graph
	Routes      routing.Table `json:"routes"`
	Intent      intent.Intent `json:"intent"`
	AutoIntent  bool          `json:"auto_intent"`
	AutoPackets bool          `json:"auto_packets"`
	PacketStats packets.Stats `json:"packet_stats"`
}

// Result reports the effect of a fail or restore request.
type Result struct {
	ID        string              `json:"id"`
	Status    topology.Status     `json:"status"`
	Changed   bool                `json:"changed"`
	Failovers []failover.Failover `json:"failovers,omitempty"`
}

// BatteryConfig controls the periodic battery drain.
type BatteryConfig struct {
	// Interval between drains, 0 disables draining.
	Interval time.Duration
	Base     float64
	PerRoute float64
}

// DefaultBatteryConfig returns the standard drain settings.
func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{Interval: 30 * time.Second, Base: 0.5, PerRoute: 0.3}
}

// FeedConfig controls the synthetic sensor feed.
type FeedConfig struct {
	// Interval between feed rounds, 0 disables the feed.
	Interval         time.Duration
	SpikeProbability float64
	Seed             uint64
}

// Config configures a ControlPlane.
type Config struct {
	Logger   *slog.Logger
	Template *topology.Template
	Weights  intent.WeightTable

	EventCapacity  int
	PacketWindow   int
	PacketInterval time.Duration
	AutoPackets    bool
	// Rand drives packet selection. A gofakeit Faker seeded with Seed is
	// used when nil.
	Rand packets.Rand
	Seed uint64
	// ZeroStatsOnReset zeroes packet counters on reset.
	ZeroStatsOnReset bool

	Battery BatteryConfig
	Feed    FeedConfig

	// Publisher receives events and packet descriptors. Streaming is off
	// when nil.
	Publisher  mq.Publisher
	OutboxSize int

	Metrics *metrics.ControlPlaneMetrics
}

// ControlPlane owns the topology store and everything derived from it.
type ControlPlane struct {
	logger  *slog.Logger
	cfg     Config
	tracer  trace.Tracer
	metrics *metrics.ControlPlaneMetrics

	mu         sync.Mutex
	store      *topology.Store
	classifier *intent.Classifier
	engine     *routing.Engine
	failures   *failover.Simulator
	events     *eventlog.Log
	pending    []eventlog.Event

	view      atomic.Pointer[View]
	simulator *packets.Simulator
	readings  *generator.ReadingGenerator
	outbox    *outbox
}

// New builds a control plane in its initial state.
func New(cfg Config) (*ControlPlane, error) {
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	weights := cfg.Weights
	if weights == nil {
		weights = intent.DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("intent weights: %w", err)
	}

	store := topology.NewStore(cfg.Template)
	cp := &ControlPlane{
		logger:     cfg.Logger,
		cfg:        cfg,
		tracer:     otel.Tracer(tracerName),
		metrics:    cfg.Metrics,
		store:      store,
		classifier: intent.NewClassifier(),
		engine:     routing.NewEngine(weights),
		failures:   failover.NewSimulator(store),
		events:     eventlog.New(cfg.EventCapacity),
		readings:   generator.NewReadingGenerator(cfg.Feed.Seed, cfg.Feed.SpikeProbability),
	}

	rnd := cfg.Rand
	if rnd == nil {
		rnd = gofakeit.New(cfg.Seed)
	}
	cp.simulator = packets.New(packets.Config{
		Source:   cp.routeSource,
		Rand:     rnd,
		Observer: cp,
		Logger:   cfg.Logger.With("component", "packets"),
		Interval: cfg.PacketInterval,
		Window:   cfg.PacketWindow,
		Enabled:  cfg.AutoPackets,
	})
	if cfg.Publisher != nil {
		cp.outbox = newOutbox(cfg.OutboxSize, cfg.Publisher, cfg.Logger.With("component", "outbox"), cfg.Metrics)
	}

	g := store.Snapshot()
	st, _ := cp.classifier.Reevaluate(g)
	cp.refresh(g, st)
	return cp, nil
}

func (cp *ControlPlane) routeSource() (*topology.Graph, routing.Table) {
	v := cp.view.Load()
	return v.Graph, v.Routes
}

// View returns the last committed view.
func (cp *ControlPlane) View() *View {
	return cp.view.Load()
}

// Topology returns the full dashboard state.
func (cp *ControlPlane) Topology() Topology {
	v := cp.view.Load()
	g := *v.Graph
	g.Display.CurrentData = cp.simulator.DisplayData()
	return Topology{
		Graph:       &g,
		Routes:      v.Routes,
		Intent:      v.Intent.Intent,
		AutoIntent:  v.Intent.Auto,
		AutoPackets: cp.simulator.Enabled(),
		PacketStats: cp.simulator.Stats(),
	}
}

// Routes returns the committed route table.
func (cp *ControlPlane) Routes() routing.Table {
	return cp.view.Load().Routes
}

// Intent returns the committed intent and mode.
func (cp *ControlPlane) Intent() intent.State {
	return cp.view.Load().Intent
}

// Events returns up to n events, newest first.
func (cp *ControlPlane) Events(n int) []eventlog.Event {
	return cp.events.Recent(n)
}

// EventCapacity returns how many events the log retains.
func (cp *ControlPlane) EventCapacity() int {
	return cp.events.Capacity()
}

// PacketStats returns the packet counters.
func (cp *ControlPlane) PacketStats() packets.Stats {
	return cp.simulator.Stats()
}

// Packets returns the recent packet descriptors, newest first.
func (cp *ControlPlane) Packets() []packets.Descriptor {
	return cp.simulator.Recent(0)
}

// AutoPackets reports whether automatic packet generation is on.
func (cp *ControlPlane) AutoPackets() bool {
	return cp.simulator.Enabled()
}

// ToggleAutoPackets flips automatic packet generation and returns the new
// state.
func (cp *ControlPlane) ToggleAutoPackets() bool {
	on := cp.simulator.Toggle()
	cp.logger.Info("automatic packet generation toggled", "enabled", on)
	return on
}

// Tick simulates one packet immediately.
func (cp *ControlPlane) Tick() (attempted, forwarded bool) {
	return cp.simulator.Tick()
}

// SetIntent applies an operator intent request.
func (cp *ControlPlane) SetIntent(ctx context.Context, name string, auto *bool) (intent.State, error) {
	var st intent.State
	err := cp.transact(ctx, "set_intent", func(span trace.Span) (bool, error) {
		span.SetAttributes(attribute.String("intent", name))
		g := cp.view.Load().Graph
		next, changed, err := cp.classifier.Set(name, auto, g)
		if err != nil {
			return false, err
		}
		st = next
		if changed {
			if next.Auto {
				cp.record(eventlog.TypeIntent, eventlog.SeverityWarning, "Intent changed to "+string(next.Intent))
			} else {
				cp.record(eventlog.TypeIntent, eventlog.SeverityWarning, "Manual intent: "+string(next.Intent))
			}
		}
		cp.refresh(g, next)
		return changed, nil
	})
	if err != nil {
		return cp.Intent(), err
	}
	return st, nil
}

// SetSensor stores a new sensor value and returns the updated sensor.
func (cp *ControlPlane) SetSensor(ctx context.Context, id string, value float64) (topology.Sensor, error) {
	var out topology.Sensor
	err := cp.transact(ctx, "set_sensor", func(span trace.Span) (bool, error) {
		span.SetAttributes(attribute.String("sensor.id", id), attribute.Float64("sensor.value", value))
		var before topology.Priority
		if s, ok := cp.view.Load().Graph.Sensors[id]; ok {
			before = s.Status
		}
		g, err := cp.store.SetSensorValue(id, value)
		if err != nil {
			return false, err
		}
		s := g.Sensors[id]
		out = *s
		if s.Status != before {
			cp.record(eventlog.TypeSensor, sensorSeverity(s.Status),
				fmt.Sprintf("%s: %s -> %s", s.Name, before, s.Status))
		}
		cp.reclassify(g)
		return true, nil
	})
	return out, err
}

func sensorSeverity(p topology.Priority) eventlog.Severity {
	switch p {
	case topology.PriorityEmergency:
		return eventlog.SeverityCritical
	case topology.PriorityWarning:
		return eventlog.SeverityWarning
	default:
		return eventlog.SeverityInfo
	}
}

// SetBattery stores a new switch battery level and returns the switch.
func (cp *ControlPlane) SetBattery(ctx context.Context, id string, battery float64) (topology.Switch, error) {
	var out topology.Switch
	err := cp.transact(ctx, "set_battery", func(span trace.Span) (bool, error) {
		span.SetAttributes(attribute.String("switch.id", id), attribute.Float64("switch.battery", battery))
		before := 100.0
		if sw, ok := cp.view.Load().Graph.Switches[id]; ok {
			before = sw.Battery
		}
		g, err := cp.store.SetSwitchBattery(id, battery)
		if err != nil {
			return false, err
		}
		sw := g.Switches[id]
		out = *sw
		cp.checkBattery(sw, before)
		cp.reclassify(g)
		return true, nil
	})
	return out, err
}

func (cp *ControlPlane) checkBattery(sw *topology.Switch, before float64) {
	if before >= LowBattery && sw.Battery < LowBattery {
		cp.record(eventlog.TypeBattery, eventlog.SeverityCritical,
			fmt.Sprintf("%s CRITICAL (%.1f%%)", strings.ToUpper(sw.ID), sw.Battery))
	}
}

// FailSwitch fails a switch.
func (cp *ControlPlane) FailSwitch(ctx context.Context, id string) (Result, error) {
	return cp.failure(ctx, "fail_switch", id, cp.failures.FailSwitch)
}

// RestoreSwitch restores a switch.
func (cp *ControlPlane) RestoreSwitch(ctx context.Context, id string) (Result, error) {
	return cp.failure(ctx, "restore_switch", id, cp.failures.RestoreSwitch)
}

// FailLink fails a switch link or gateway link.
func (cp *ControlPlane) FailLink(ctx context.Context, id string) (Result, error) {
	return cp.failure(ctx, "fail_link", id, cp.failures.FailLink)
}

// RestoreLink restores a switch link or gateway link.
func (cp *ControlPlane) RestoreLink(ctx context.Context, id string) (Result, error) {
	return cp.failure(ctx, "restore_link", id, cp.failures.RestoreLink)
}

func (cp *ControlPlane) failure(ctx context.Context, op, id string, apply func(string) (failover.Outcome, error)) (Result, error) {
	res := Result{ID: id}
	err := cp.transact(ctx, op, func(span trace.Span) (bool, error) {
		span.SetAttributes(attribute.String("entity.id", id))
		out, err := apply(id)
		if err != nil {
			return false, err
		}
		res.Status = out.Status
		res.Changed = out.Changed
		res.Failovers = out.Failovers
		if !out.Changed {
			return false, nil
		}
		if out.Action == failover.ActionFail {
			cp.record(eventlog.TypeFailure, eventlog.SeverityCritical, out.Message())
		} else {
			cp.record(eventlog.TypeRestore, eventlog.SeverityInfo, out.Message())
		}
		span.SetAttributes(attribute.Int("failovers", len(out.Failovers)))
		cp.reclassify(out.Graph)
		return true, nil
	})
	return res, err
}

// Reset restores the template state. The reset itself is the first entry of
// the fresh event log.
func (cp *ControlPlane) Reset(ctx context.Context) {
	_ = cp.transact(ctx, "reset", func(trace.Span) (bool, error) {
		g := cp.store.Reset()
		cp.classifier.Reset()
		cp.events.Reset()
		cp.simulator.Reset(cp.cfg.ZeroStatsOnReset)
		cp.simulator.SetEnabled(cp.cfg.AutoPackets)
		st, _ := cp.classifier.Reevaluate(g)
		cp.refresh(g, st)
		cp.record(eventlog.TypeSystem, eventlog.SeverityInfo, "Simulation reset")
		return true, nil
	})
}

// DrainBatteries applies one round of battery drain to every active switch.
// Switches carrying routes drain faster.
func (cp *ControlPlane) DrainBatteries(ctx context.Context) error {
	return cp.transact(ctx, "drain_batteries", func(trace.Span) (bool, error) {
		routes := cp.view.Load().Routes
		before := make(map[string]float64)
		g, err := cp.store.Update(func(g *topology.Graph) error {
			for id, sw := range g.Switches {
				if sw.Status != topology.StatusActive || sw.Battery <= 0 {
					continue
				}
				drain := cp.cfg.Battery.Base
				for _, r := range routes {
					if r != nil && r.Uses(id) {
						drain += cp.cfg.Battery.PerRoute
					}
				}
				before[id] = sw.Battery
				sw.Battery = topology.ClampPercent(sw.Battery - drain)
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		for _, id := range slices.Sorted(maps.Keys(before)) {
			cp.checkBattery(g.Switches[id], before[id])
		}
		cp.reclassify(g)
		return len(before) > 0, nil
	})
}

// FeedSensors draws one new reading per sensor and applies each as its own
// transaction.
func (cp *ControlPlane) FeedSensors(ctx context.Context) error {
	g := cp.view.Load().Graph
	for _, id := range slices.Sorted(maps.Keys(g.Sensors)) {
		s := g.Sensors[id]
		r := cp.readings.Next(generator.Profile{
			SensorID:  id,
			Warning:   s.ThresholdWarning,
			Emergency: s.ThresholdEmergency,
		}, s.Value)
		if _, err := cp.SetSensor(ctx, id, r.Value); err != nil {
			return err
		}
	}
	return nil
}

// transact runs fn under the transaction lock inside a span, then hands the
// events fn recorded to the outbox.
func (cp *ControlPlane) transact(ctx context.Context, op string, fn func(span trace.Span) (bool, error)) error {
	_, span := cp.tracer.Start(ctx, "controlplane."+op)
	defer span.End()
	start := time.Now()

	cp.mu.Lock()
	changed, err := fn(span)
	pending := cp.pending
	cp.pending = nil
	cp.mu.Unlock()

	result := resultNoop
	switch {
	case err != nil:
		result = resultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case changed:
		result = resultChanged
	}
	span.SetAttributes(attribute.Bool("changed", changed))

	if cp.metrics != nil {
		cp.metrics.TransactionsTotal.WithLabelValues(op, result).Inc()
		cp.metrics.TransactionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	for _, ev := range pending {
		if cp.metrics != nil {
			cp.metrics.EventsTotal.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
		}
		cp.logger.Info("event", "type", ev.Type, "severity", ev.Severity, "message", ev.Message)
		cp.stream(wire.NewEventEnvelope(wire.Event{
			ID:        ev.ID,
			Type:      string(ev.Type),
			Message:   ev.Message,
			Severity:  string(ev.Severity),
			Timestamp: ev.Timestamp,
		}))
	}
	return err
}

// record appends an event. Callers hold mu.
func (cp *ControlPlane) record(typ eventlog.Type, sev eventlog.Severity, msg string) {
	cp.pending = append(cp.pending, cp.events.Append(typ, sev, msg))
}

// reclassify re-derives the intent from g, logs a change and commits the
// view. Callers hold mu.
func (cp *ControlPlane) reclassify(g *topology.Graph) {
	st, changed := cp.classifier.Reevaluate(g)
	if changed {
		cp.record(eventlog.TypeIntent, eventlog.SeverityWarning, "Intent changed to "+string(st.Intent))
	}
	cp.refresh(g, st)
}

// refresh recomputes routes and publishes a new view. Callers hold mu, except
// during construction.
func (cp *ControlPlane) refresh(g *topology.Graph, st intent.State) {
	routes := cp.engine.Compute(g, st.Intent)
	cp.view.Store(&View{Graph: g, Routes: routes, Intent: st})

	if cp.metrics == nil {
		return
	}
	cp.metrics.ReachableGateways.Set(float64(routes.Reachable()))
	for _, in := range []intent.Intent{intent.Balanced, intent.LowLatency, intent.HighPriority} {
		v := 0.0
		if in == st.Intent {
			v = 1
		}
		cp.metrics.ActiveIntent.WithLabelValues(string(in)).Set(v)
	}
	for id, sw := range g.Switches {
		cp.metrics.SwitchBattery.WithLabelValues(id).Set(sw.Battery)
	}
}

func (cp *ControlPlane) stream(env wire.Envelope) {
	if cp.outbox != nil {
		cp.outbox.Offer(env)
	}
}

// PacketForwarded implements packets.Observer.
func (cp *ControlPlane) PacketForwarded(d packets.Descriptor) {
	if cp.metrics != nil {
		cp.metrics.PacketsTotal.WithLabelValues("forwarded").Inc()
	}
	cp.stream(wire.NewPacketEnvelope(wire.Packet{
		ID:         d.ID,
		Gateway:    d.Gateway,
		Sensor:     d.Sensor,
		SensorKind: string(d.SensorKind),
		Value:      d.Value,
		Unit:       d.Unit,
		Path:       d.Path,
		Cost:       d.Cost,
		Priority:   string(d.Priority),
		Timestamp:  d.Timestamp,
	}))
}

// PacketDropped implements packets.Observer.
func (cp *ControlPlane) PacketDropped(gatewayID, sensorID string) {
	if cp.metrics != nil {
		cp.metrics.PacketsTotal.WithLabelValues("dropped").Inc()
	}
	cp.logger.Debug("packet dropped", "gateway", gatewayID, "sensor", sensorID)
}
