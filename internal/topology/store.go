package topology

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a referenced entity id does not exist.
var ErrNotFound = errors.New("not found")

var errInvalidStatus = errors.New("invalid status")

// Store owns the committed topology graph. Every mutation runs as a
// copy-on-write transaction: it is applied to a private clone and the clone
// replaces the committed graph only if the mutation succeeds.
type Store struct {
	mu       sync.RWMutex
	template *Template
	graph    *Graph
}

// NewStore builds a store initialised from tpl. A nil template selects the
// built-in deployment.
func NewStore(tpl *Template) *Store {
	if tpl == nil {
		tpl = DefaultTemplate()
	}
	return &Store{
		template: tpl,
		graph:    tpl.Build(),
	}
}

// Snapshot returns a deep copy of the committed graph.
func (s *Store) Snapshot() *Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Clone()
}

// Update applies fn to a working copy of the graph, recomputes derived fields
// and commits. If fn returns an error nothing is committed.
func (s *Store) Update(fn func(g *Graph) error) (*Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.graph.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.Recompute()
	s.graph = work
	return work.Clone(), nil
}

// SetSensorValue stores a clamped sensor value and refreshes the sensor
// status and its gateway priority.
func (s *Store) SetSensorValue(id string, value float64) (*Graph, error) {
	return s.Update(func(g *Graph) error {
		sensor, err := g.Sensor(id)
		if err != nil {
			return err
		}
		sensor.Value = ClampPercent(value)
		return nil
	})
}

// SetSwitchBattery stores a clamped battery level.
func (s *Store) SetSwitchBattery(id string, battery float64) (*Graph, error) {
	return s.Update(func(g *Graph) error {
		sw, err := g.Switch(id)
		if err != nil {
			return err
		}
		sw.Battery = ClampPercent(battery)
		return nil
	})
}

// SetSwitchStatus changes a switch status. Links touching the switch follow
// on recompute.
func (s *Store) SetSwitchStatus(id string, status Status) (*Graph, error) {
	if status != StatusActive && status != StatusFailed {
		return nil, fmt.Errorf("%w: %q", errInvalidStatus, status)
	}
	return s.Update(func(g *Graph) error {
		sw, err := g.Switch(id)
		if err != nil {
			return err
		}
		sw.Status = status
		return nil
	})
}

// SetLinkStatus sets or clears an operator failure on a link.
func (s *Store) SetLinkStatus(id string, status Status) (*Graph, error) {
	if status != StatusActive && status != StatusFailed {
		return nil, fmt.Errorf("%w: %q", errInvalidStatus, status)
	}
	return s.Update(func(g *Graph) error {
		return g.SetLinkOperatorFailed(id, status == StatusFailed)
	})
}

// Reset replaces the committed graph with a fresh build of the template.
func (s *Store) Reset() *Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = s.template.Build()
	return s.graph.Clone()
}
