// Package packets simulates sensor traffic over the committed route table
// and keeps forwarded/dropped accounting.
package packets

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"procodus.dev/sadrn/internal/routing"
	"procodus.dev/sadrn/internal/topology"
)

// DefaultWindow is the number of descriptors kept for observability.
const DefaultWindow = 50

// DisplayReadings is the number of readings the control center shows.
const DisplayReadings = 4

// Rand is the randomness source used to pick gateways and sensors. A
// *gofakeit.Faker satisfies it.
type Rand interface {
	IntN(n int) int
}

// Source returns the latest committed topology and route table.
type Source func() (*topology.Graph, routing.Table)

// Observer is notified after each simulated packet, outside the simulator
// lock.
type Observer interface {
	PacketForwarded(d Descriptor)
	PacketDropped(gatewayID, sensorID string)
}

// Stats is a consistent snapshot of the counters.
type Stats struct {
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
	Total     uint64 `json:"total"`
}

// Descriptor describes one forwarded packet.
type Descriptor struct {
	ID         string              `json:"id"`
	Gateway    string              `json:"gateway"`
	Sensor     string              `json:"sensor"`
	SensorName string              `json:"sensor_name"`
	SensorKind topology.SensorKind `json:"sensor_type"`
	Value      float64             `json:"value"`
	Unit       string              `json:"unit"`
	Path       []string            `json:"path"`
	Cost       float64             `json:"cost"`
	Priority   topology.Priority   `json:"priority"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Reading converts d to a control center display entry.
func (d Descriptor) Reading() topology.Reading {
	return topology.Reading{
		SensorID:   d.Sensor,
		SensorName: d.SensorName,
		Value:      d.Value,
		Unit:       d.Unit,
		Priority:   d.Priority,
		Timestamp:  d.Timestamp.Format(time.RFC3339),
	}
}

// Config configures a Simulator.
type Config struct {
	Source   Source
	Rand     Rand
	Observer Observer
	Logger   *slog.Logger
	// Interval between ticks in Run.
	Interval time.Duration
	// Window caps the descriptor history, DefaultWindow when zero.
	Window int
	// Enabled is the initial state of automatic generation.
	Enabled bool
}

// Simulator synthesises packets on a timer.
type Simulator struct {
	source   Source
	rand     Rand
	observer Observer
	logger   *slog.Logger
	interval time.Duration
	enabled  atomic.Bool

	mu     sync.Mutex
	stats  Stats
	seq    uint64
	epoch  uint64      // bumped by Reset
	window []Descriptor // newest first
	limit  int
	now    func() time.Time
}

// New returns a simulator. Source and Rand are required.
func New(cfg Config) *Simulator {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		source:   cfg.Source,
		rand:     cfg.Rand,
		observer: cfg.Observer,
		logger:   logger,
		interval: cfg.Interval,
		limit:    window,
		window:   make([]Descriptor, 0, window),
		now:      time.Now,
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Tick simulates one packet. It reports whether a packet was attempted and,
// if so, whether it was forwarded. A packet read from a view older than the
// last Reset is discarded uncounted.
func (s *Simulator) Tick() (attempted, forwarded bool) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	g, table := s.source()
	candidates := make([]string, 0, len(g.Gateways))
	for _, id := range g.SortedGatewayIDs() {
		if len(g.Gateways[id].Sensors) > 0 {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return false, false
	}

	gw := g.Gateways[candidates[s.rand.IntN(len(candidates))]]
	sensorID := gw.Sensors[s.rand.IntN(len(gw.Sensors))]
	route := table[gw.ID]

	if route == nil {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return false, false
		}
		s.stats.Dropped++
		s.stats.Total++
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.PacketDropped(gw.ID, sensorID)
		}
		return true, false
	}

	sensor := g.Sensors[sensorID]
	d := Descriptor{
		Gateway:  gw.ID,
		Sensor:   sensorID,
		Path:     append([]string(nil), route.Path...),
		Cost:     route.Cost,
		Priority: topology.PriorityNormal,
	}
	if sensor != nil {
		d.SensorName = sensor.Name
		d.SensorKind = sensor.Kind
		d.Value = sensor.Value
		d.Unit = sensor.Unit
		d.Priority = sensor.Status
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false, false
	}
	s.seq++
	d.ID = "pkt_" + strconv.FormatUint(s.seq, 10)
	d.Timestamp = s.now().UTC()
	s.stats.Forwarded++
	s.stats.Total++
	s.push(d)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.PacketForwarded(d)
	}
	return true, true
}

func (s *Simulator) push(d Descriptor) {
	if len(s.window) < s.limit {
		s.window = append(s.window, Descriptor{})
	}
	copy(s.window[1:], s.window[:len(s.window)-1])
	s.window[0] = d
}

// Stats returns the counters as one consistent triple.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Recent returns up to n descriptors, newest first. n <= 0 returns the whole
// window.
func (s *Simulator) Recent(n int) []Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.window) {
		n = len(s.window)
	}
	return append([]Descriptor(nil), s.window[:n]...)
}

// DisplayData returns the readings currently shown at the control center.
func (s *Simulator) DisplayData() []topology.Reading {
	recent := s.Recent(DisplayReadings)
	out := make([]topology.Reading, len(recent))
	for i, d := range recent {
		out[i] = d.Reading()
	}
	return out
}

// Enabled reports whether automatic generation is on.
func (s *Simulator) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled turns automatic generation on or off. Counters are kept.
func (s *Simulator) SetEnabled(on bool) {
	s.enabled.Store(on)
}

// Toggle flips automatic generation and returns the new state.
func (s *Simulator) Toggle() bool {
	for {
		cur := s.enabled.Load()
		if s.enabled.CompareAndSwap(cur, !cur) {
			return !cur
		}
	}
}

// Reset clears the window and, when zeroStats is set, the counters. Packet
// ids keep increasing so they are never reused.
func (s *Simulator) Reset(zeroStats bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.window = s.window[:0]
	if zeroStats {
		s.stats = Stats{}
	}
}

// Run ticks every interval while enabled until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("packet simulation timer disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("packet simulator started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("packet simulator shutting down")
			return
		case <-ticker.C:
			if !s.Enabled() {
				continue
			}
			if attempted, forwarded := s.Tick(); attempted {
				s.logger.Debug("packet simulated", "forwarded", forwarded)
			}
		}
	}
}
