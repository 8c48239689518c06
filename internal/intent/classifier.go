// Package intent derives the active routing intent from sensor severity or
// holds an operator override.
package intent

import (
	"errors"
	"fmt"
	"sync"

	"procodus.dev/sadrn/internal/topology"
)

// Intent is a routing policy.
type Intent string

const (
	Balanced     Intent = "balanced"
	LowLatency   Intent = "low_latency"
	HighPriority Intent = "high_priority"
)

// ErrUnknownIntent is returned for intent names outside the known set.
var ErrUnknownIntent = errors.New("unknown intent")

var errWeightOrdering = errors.New("high_priority must weight latency at least as much as every other intent")

// Parse validates an intent name.
func Parse(name string) (Intent, error) {
	switch Intent(name) {
	case Balanced, LowLatency, HighPriority:
		return Intent(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIntent, name)
	}
}

// Weights is the (latency, battery) tuple used by the routing cost function.
type Weights struct {
	Latency float64 `json:"latency" mapstructure:"latency"`
	Battery float64 `json:"battery" mapstructure:"battery"`
}

// WeightTable maps every intent to its weights.
type WeightTable map[Intent]Weights

// DefaultWeights returns the standard weight table.
func DefaultWeights() WeightTable {
	return WeightTable{
		Balanced:     {Latency: 0.4, Battery: 0.6},
		LowLatency:   {Latency: 0.6, Battery: 0.4},
		HighPriority: {Latency: 0.9, Battery: 0.1},
	}
}

// Validate checks that every intent has non-negative weights and that
// high_priority favours latency the most.
func (t WeightTable) Validate() error {
	for _, in := range []Intent{Balanced, LowLatency, HighPriority} {
		w, ok := t[in]
		if !ok {
			return fmt.Errorf("missing weights for intent %q", in)
		}
		if w.Latency < 0 || w.Battery < 0 {
			return fmt.Errorf("weights for intent %q must be non-negative", in)
		}
	}
	hp := t[HighPriority].Latency
	if hp < t[Balanced].Latency || hp < t[LowLatency].Latency {
		return errWeightOrdering
	}
	return nil
}

// For returns the weights of in, falling back to balanced.
func (t WeightTable) For(in Intent) Weights {
	if w, ok := t[in]; ok {
		return w
	}
	return t[Balanced]
}

// FromPriority maps the most severe gateway priority to an intent.
func FromPriority(p topology.Priority) Intent {
	switch p {
	case topology.PriorityEmergency:
		return HighPriority
	case topology.PriorityWarning:
		return LowLatency
	default:
		return Balanced
	}
}

// State is the externally visible intent setting.
type State struct {
	Intent Intent `json:"intent"`
	Auto   bool   `json:"auto_intent"`
}

// Classifier tracks the current intent and its mode.
type Classifier struct {
	mu      sync.Mutex
	current Intent
	auto    bool
}

// NewClassifier returns a classifier in auto mode with the balanced intent.
func NewClassifier() *Classifier {
	return &Classifier{current: Balanced, auto: true}
}

// State returns the current intent and mode.
func (c *Classifier) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Intent: c.current, Auto: c.auto}
}

// Reevaluate re-derives the intent from g when in auto mode. It reports
// whether the intent changed.
func (c *Classifier) Reevaluate(g *topology.Graph) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.auto {
		return State{Intent: c.current, Auto: false}, false
	}
	next := FromPriority(g.MaxPriority())
	changed := next != c.current
	c.current = next
	return State{Intent: c.current, Auto: true}, changed
}

// Set applies an operator request. auto=true switches to auto mode and
// re-derives from g immediately, ignoring name. Otherwise a non-empty name
// selects manual mode with that intent. An empty name with auto unset or
// false only updates the mode.
func (c *Classifier) Set(name string, auto *bool, g *topology.Graph) (State, bool, error) {
	var explicit Intent
	if name != "" {
		in, err := Parse(name)
		if err != nil {
			return c.State(), false, err
		}
		explicit = in
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current
	switch {
	case auto != nil && *auto:
		c.auto = true
		c.current = FromPriority(g.MaxPriority())
	case explicit != "":
		c.auto = false
		c.current = explicit
	case auto != nil:
		c.auto = false
	}
	return State{Intent: c.current, Auto: c.auto}, prev != c.current, nil
}

// Reset returns the classifier to auto mode with the balanced intent.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Balanced
	c.auto = true
}
