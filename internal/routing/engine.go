// Package routing computes least-cost gateway routes to the control center
// under the active intent.
package routing

import (
	"container/heap"
	"math"

	"procodus.dev/sadrn/internal/intent"
	"procodus.dev/sadrn/internal/topology"
)

// Route is the chosen path for one gateway.
type Route struct {
	Gateway  string            `json:"gateway"`
	Path     []string          `json:"path"`
	Switches []string          `json:"switches_path"`
	Cost     float64           `json:"cost"`
	Hops     int               `json:"hop_count"`
	Latency  float64           `json:"latency"`
	Priority topology.Priority `json:"priority"`
	Intent   intent.Intent     `json:"intent"`
}

// Uses reports whether the route passes through node id.
func (r *Route) Uses(id string) bool {
	for _, n := range r.Path {
		if n == id {
			return true
		}
	}
	return false
}

// Table maps gateway id to its route. A nil entry means the gateway has no
// path to the control center.
type Table map[string]*Route

// Clone returns a copy of t whose routes can be shared read-only.
func (t Table) Clone() Table {
	c := make(Table, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// Reachable counts gateways with a route.
func (t Table) Reachable() int {
	n := 0
	for _, r := range t {
		if r != nil {
			n++
		}
	}
	return n
}

type edge struct {
	to      string
	latency float64
}

// Engine computes route tables. It holds no mutable state.
type Engine struct {
	weights intent.WeightTable
}

// NewEngine returns an engine using weights, or the defaults when nil.
func NewEngine(weights intent.WeightTable) *Engine {
	if weights == nil {
		weights = intent.DefaultWeights()
	}
	return &Engine{weights: weights}
}

// Weights returns the engine weight table.
func (e *Engine) Weights() intent.WeightTable {
	return e.weights
}

// Compute returns the route of every gateway in g under in.
func (e *Engine) Compute(g *topology.Graph, in intent.Intent) Table {
	w := e.weights.For(in)
	adj := buildAdjacency(g)
	table := make(Table, len(g.Gateways))
	for _, id := range g.SortedGatewayIDs() {
		table[id] = e.route(g, adj, g.Gateways[id], w, in)
	}
	return table
}

// buildAdjacency lists usable switch-to-switch edges plus the zero-latency
// attachments from control center switches to the control center node.
func buildAdjacency(g *topology.Graph) map[string][]edge {
	adj := make(map[string][]edge)
	active := func(id string) bool {
		sw, ok := g.Switches[id]
		return ok && sw.Status == topology.StatusActive
	}
	for _, l := range g.SwitchLinks {
		if l.Status != topology.StatusActive || !active(l.Source) || !active(l.Target) {
			continue
		}
		adj[l.Source] = append(adj[l.Source], edge{to: l.Target, latency: l.Latency})
		adj[l.Target] = append(adj[l.Target], edge{to: l.Source, latency: l.Latency})
	}
	for _, id := range g.Display.ConnectedSwitches {
		if active(id) {
			adj[id] = append(adj[id], edge{to: controlCenter(g), latency: 0})
		}
	}
	return adj
}

func controlCenter(g *topology.Graph) string {
	if g.Display.ID != "" {
		return g.Display.ID
	}
	return topology.ControlCenterID
}

func (e *Engine) route(g *topology.Graph, adj map[string][]edge, gw *topology.Gateway, w intent.Weights, in intent.Intent) *Route {
	uplink := gw.ActiveUplink
	if uplink == "" {
		return nil
	}
	sw, ok := g.Switches[uplink]
	if !ok || sw.Status != topology.StatusActive {
		return nil
	}
	gl := g.GatewayLink(gw.ID, uplink)
	if gl == nil || gl.Status != topology.StatusActive {
		return nil
	}

	target := controlCenter(g)
	edgeCost := func(to string, latency float64) float64 {
		cost := w.Latency * latency
		if s, ok := g.Switches[to]; ok {
			cost += w.Battery * (1 - s.Battery/100)
		}
		return cost
	}

	first := &label{
		node:    uplink,
		cost:    edgeCost(uplink, gl.Latency),
		latency: gl.Latency,
		path:    []string{gw.ID, uplink},
	}
	best := map[string]*label{uplink: first}
	settled := make(map[string]bool)
	q := newLabelQueue(first)

	for q.Len() > 0 {
		cur := heap.Pop(q).(*label)
		if settled[cur.node] {
			continue
		}
		settled[cur.node] = true
		if cur.node == target {
			return e.finish(gw, cur, in)
		}
		for _, ed := range adj[cur.node] {
			if settled[ed.to] || ed.to == gw.ID {
				continue
			}
			path := make([]string, len(cur.path), len(cur.path)+1)
			copy(path, cur.path)
			next := &label{
				node:    ed.to,
				cost:    cur.cost + edgeCost(ed.to, ed.latency),
				latency: cur.latency + ed.latency,
				path:    append(path, ed.to),
			}
			if prev, ok := best[ed.to]; ok && !less(next, prev) {
				continue
			}
			best[ed.to] = next
			heap.Push(q, next)
		}
	}
	return nil
}

func (e *Engine) finish(gw *topology.Gateway, l *label, in intent.Intent) *Route {
	path := append([]string(nil), l.path...)
	return &Route{
		Gateway:  gw.ID,
		Path:     path,
		Switches: append([]string(nil), path[1:len(path)-1]...),
		Cost:     math.Round(l.cost*100) / 100,
		Hops:     l.hops(),
		Latency:  l.latency,
		Priority: gw.Priority,
		Intent:   in,
	}
}
