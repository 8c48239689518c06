package topology

import (
	"fmt"
	"sort"
)

// Graph is a complete topology state. Graphs handed out by a Store are
// copies; mutating them has no effect on the store.
type Graph struct {
	Switches     map[string]*Switch  `json:"switches"`
	SwitchLinks  []*Link             `json:"switch_links"`
	Gateways     map[string]*Gateway `json:"gateways"`
	GatewayLinks []*Link             `json:"gateway_links"`
	Sensors      map[string]*Sensor  `json:"sensors"`
	Display      Display             `json:"display"`
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Switches:     make(map[string]*Switch, len(g.Switches)),
		SwitchLinks:  make([]*Link, 0, len(g.SwitchLinks)),
		Gateways:     make(map[string]*Gateway, len(g.Gateways)),
		GatewayLinks: make([]*Link, 0, len(g.GatewayLinks)),
		Sensors:      make(map[string]*Sensor, len(g.Sensors)),
	}
	for id, sw := range g.Switches {
		cp := *sw
		c.Switches[id] = &cp
	}
	for _, l := range g.SwitchLinks {
		cp := *l
		c.SwitchLinks = append(c.SwitchLinks, &cp)
	}
	for _, l := range g.GatewayLinks {
		cp := *l
		c.GatewayLinks = append(c.GatewayLinks, &cp)
	}
	for id, gw := range g.Gateways {
		cp := *gw
		cp.Sensors = append([]string(nil), gw.Sensors...)
		c.Gateways[id] = &cp
	}
	for id, s := range g.Sensors {
		cp := *s
		c.Sensors[id] = &cp
	}
	c.Display = g.Display
	c.Display.ConnectedSwitches = append([]string(nil), g.Display.ConnectedSwitches...)
	c.Display.CurrentData = append([]Reading(nil), g.Display.CurrentData...)
	return c
}

// Switch looks up a switch by id.
func (g *Graph) Switch(id string) (*Switch, error) {
	sw, ok := g.Switches[id]
	if !ok {
		return nil, fmt.Errorf("switch %q: %w", id, ErrNotFound)
	}
	return sw, nil
}

// Sensor looks up a sensor by id.
func (g *Graph) Sensor(id string) (*Sensor, error) {
	s, ok := g.Sensors[id]
	if !ok {
		return nil, fmt.Errorf("sensor %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// Gateway looks up a gateway by id.
func (g *Graph) Gateway(id string) (*Gateway, error) {
	gw, ok := g.Gateways[id]
	if !ok {
		return nil, fmt.Errorf("gateway %q: %w", id, ErrNotFound)
	}
	return gw, nil
}

// Link looks up a switch link or gateway link by id.
func (g *Graph) Link(id string) (*Link, error) {
	for _, l := range g.SwitchLinks {
		if l.ID == id {
			return l, nil
		}
	}
	for _, l := range g.GatewayLinks {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, fmt.Errorf("link %q: %w", id, ErrNotFound)
}

// SetLinkOperatorFailed records or clears an explicit link failure. The
// link status itself is derived on Recompute.
func (g *Graph) SetLinkOperatorFailed(id string, failed bool) error {
	l, err := g.Link(id)
	if err != nil {
		return err
	}
	l.operatorFailed = failed
	return nil
}

// LinksTouching returns every link with id as an endpoint.
func (g *Graph) LinksTouching(id string) []*Link {
	var out []*Link
	for _, l := range g.SwitchLinks {
		if l.Touches(id) {
			out = append(out, l)
		}
	}
	for _, l := range g.GatewayLinks {
		if l.Touches(id) {
			out = append(out, l)
		}
	}
	return out
}

// GatewayLink returns the link between a gateway and one of its uplinks.
func (g *Graph) GatewayLink(gatewayID, switchID string) *Link {
	for _, l := range g.GatewayLinks {
		if l.Source == gatewayID && l.Target == switchID {
			return l
		}
	}
	return nil
}

// SortedGatewayIDs returns gateway ids in lexical order.
func (g *Graph) SortedGatewayIDs() []string {
	ids := make([]string, 0, len(g.Gateways))
	for id := range g.Gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Recompute refreshes every derived field: sensor status, gateway priority
// and link status with its failure cause.
func (g *Graph) Recompute() {
	for _, s := range g.Sensors {
		s.Status = s.Classify(s.Value)
	}
	for _, gw := range g.Gateways {
		gw.Priority = g.gatewayPriority(gw)
	}
	for _, l := range g.SwitchLinks {
		g.deriveLinkStatus(l)
	}
	for _, l := range g.GatewayLinks {
		g.deriveLinkStatus(l)
	}
}

func (g *Graph) gatewayPriority(gw *Gateway) Priority {
	p := PriorityNormal
	for _, sid := range gw.Sensors {
		if s, ok := g.Sensors[sid]; ok {
			p = MaxPriority(p, s.Status)
		}
	}
	return p
}

func (g *Graph) deriveLinkStatus(l *Link) {
	switch {
	case l.operatorFailed:
		l.Status, l.Cause = StatusFailed, CauseOperator
	case g.switchFailed(l.Source) || g.switchFailed(l.Target):
		l.Status, l.Cause = StatusFailed, CauseSwitch
	default:
		l.Status, l.Cause = StatusActive, CauseNone
	}
}

func (g *Graph) switchFailed(id string) bool {
	sw, ok := g.Switches[id]
	return ok && sw.Status == StatusFailed
}

// MaxPriority returns the most severe gateway priority in the graph.
func (g *Graph) MaxPriority() Priority {
	p := PriorityNormal
	for _, gw := range g.Gateways {
		p = MaxPriority(p, gw.Priority)
	}
	return p
}

// Reachable reports whether an active path exists from switchID to the
// control center over active switches and links.
func (g *Graph) Reachable(switchID string) bool {
	start, ok := g.Switches[switchID]
	if !ok || start.Status != StatusActive {
		return false
	}
	exits := make(map[string]struct{}, len(g.Display.ConnectedSwitches))
	for _, id := range g.Display.ConnectedSwitches {
		exits[id] = struct{}{}
	}

	seen := map[string]bool{switchID: true}
	queue := []string{switchID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := exits[cur]; ok {
			return true
		}
		for _, l := range g.SwitchLinks {
			if l.Status != StatusActive || !l.Touches(cur) {
				continue
			}
			next := l.Other(cur)
			if seen[next] || g.switchFailed(next) {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	return false
}

// UplinkReachable reports whether gw can reach the control center through
// the given uplink switch: the gateway link and the switch must be active and
// the switch must reach the control center.
func (g *Graph) UplinkReachable(gw *Gateway, switchID string) bool {
	if switchID == "" {
		return false
	}
	l := g.GatewayLink(gw.ID, switchID)
	if l == nil || l.Status != StatusActive {
		return false
	}
	return g.Reachable(switchID)
}

// PreferredUplink returns the primary switch if reachable, else the backup
// switch if reachable, else the empty string.
func (g *Graph) PreferredUplink(gw *Gateway) string {
	if g.UplinkReachable(gw, gw.PrimarySwitch) {
		return gw.PrimarySwitch
	}
	if g.UplinkReachable(gw, gw.BackupSwitch) {
		return gw.BackupSwitch
	}
	return ""
}
