// Package failover applies switch and link failures to the topology and
// moves gateways between their primary and backup uplinks.
package failover

import (
	"errors"
	"fmt"
	"strings"

	"procodus.dev/sadrn/internal/topology"
)

// Action is what was requested of an entity.
type Action string

const (
	ActionFail    Action = "fail"
	ActionRestore Action = "restore"
)

// Target is the kind of entity an action applies to.
type Target string

const (
	TargetSwitch Target = "switch"
	TargetLink   Target = "link"
)

// Failover records a gateway moving from one uplink to another. An empty
// To means the gateway lost every uplink.
type Failover struct {
	Gateway string `json:"gateway"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (f Failover) String() string {
	to := f.To
	if to == "" {
		to = "none"
	}
	from := f.From
	if from == "" {
		from = "none"
	}
	return fmt.Sprintf("%s uplink %s -> %s", f.Gateway, from, to)
}

// Outcome describes the effect of one fail or restore request.
type Outcome struct {
	Target    Target
	Action    Action
	ID        string
	Status    topology.Status
	Changed   bool
	Failovers []Failover
	// Graph is the committed graph after the action, nil when unchanged.
	Graph *topology.Graph
}

// Message renders the outcome for the event log.
func (o Outcome) Message() string {
	var b strings.Builder
	switch o.Target {
	case TargetSwitch:
		b.WriteString(strings.ToUpper(o.ID))
	default:
		b.WriteString("Link " + o.ID)
	}
	if o.Action == ActionFail {
		b.WriteString(" FAILED")
	} else {
		b.WriteString(" restored")
	}
	if len(o.Failovers) > 0 {
		parts := make([]string, len(o.Failovers))
		for i, f := range o.Failovers {
			parts[i] = f.String()
		}
		b.WriteString("; " + strings.Join(parts, ", "))
	}
	return b.String()
}

// Simulator applies failures through store transactions.
type Simulator struct {
	store *topology.Store
}

// NewSimulator returns a simulator bound to store.
func NewSimulator(store *topology.Store) *Simulator {
	return &Simulator{store: store}
}

// FailSwitch marks a switch failed. Touching links go down with a switch
// cause and gateways whose uplink became unreachable fail over.
func (s *Simulator) FailSwitch(id string) (Outcome, error) {
	out := Outcome{Target: TargetSwitch, Action: ActionFail, ID: id, Status: topology.StatusFailed}
	return s.apply(out, func(g *topology.Graph) (bool, error) {
		sw, err := g.Switch(id)
		if err != nil {
			return false, err
		}
		if sw.Status == topology.StatusFailed {
			return false, nil
		}
		sw.Status = topology.StatusFailed
		return true, nil
	})
}

// RestoreSwitch marks a switch active. Links it had taken down come back
// unless another cause keeps them failed.
func (s *Simulator) RestoreSwitch(id string) (Outcome, error) {
	out := Outcome{Target: TargetSwitch, Action: ActionRestore, ID: id, Status: topology.StatusActive}
	return s.apply(out, func(g *topology.Graph) (bool, error) {
		sw, err := g.Switch(id)
		if err != nil {
			return false, err
		}
		if sw.Status == topology.StatusActive {
			return false, nil
		}
		sw.Status = topology.StatusActive
		return true, nil
	})
}

// FailLink sets an operator failure on a switch link or gateway link. A link
// that is already down, whatever the cause, is left untouched.
func (s *Simulator) FailLink(id string) (Outcome, error) {
	out := Outcome{Target: TargetLink, Action: ActionFail, ID: id}
	return s.apply(out, func(g *topology.Graph) (bool, error) {
		l, err := g.Link(id)
		if err != nil {
			return false, err
		}
		if l.Status == topology.StatusFailed {
			return false, nil
		}
		return true, g.SetLinkOperatorFailed(id, true)
	})
}

// RestoreLink clears an operator failure. A link that is only down because
// of a failed switch is left alone.
func (s *Simulator) RestoreLink(id string) (Outcome, error) {
	out := Outcome{Target: TargetLink, Action: ActionRestore, ID: id}
	return s.apply(out, func(g *topology.Graph) (bool, error) {
		l, err := g.Link(id)
		if err != nil {
			return false, err
		}
		if !l.OperatorFailed() {
			return false, nil
		}
		return true, g.SetLinkOperatorFailed(id, false)
	})
}

// errNoop aborts a transaction that would not change anything.
var errNoop = errors.New("no-op")

func (s *Simulator) apply(out Outcome, mutate func(g *topology.Graph) (bool, error)) (Outcome, error) {
	g, err := s.store.Update(func(g *topology.Graph) error {
		changed, err := mutate(g)
		if err != nil {
			return err
		}
		if !changed {
			return errNoop
		}
		g.Recompute()
		if out.Action == ActionFail {
			out.Failovers = ReselectAfterFailure(g)
		} else {
			out.Failovers = ReselectAfterRestore(g)
		}
		return nil
	})
	switch {
	case errors.Is(err, errNoop):
		if out.Status == "" {
			out.Status = s.linkStatus(out.ID)
		}
		return out, nil
	case err != nil:
		return out, err
	}
	out.Changed = true
	out.Graph = g
	if out.Target == TargetLink {
		if l, lerr := g.Link(out.ID); lerr == nil {
			out.Status = l.Status
		}
	}
	return out, nil
}

func (s *Simulator) linkStatus(id string) topology.Status {
	l, err := s.store.Snapshot().Link(id)
	if err != nil {
		return ""
	}
	return l.Status
}

// ReselectAfterFailure moves every gateway whose active uplink can no longer
// reach the control center to its other uplink, or to none. Gateways whose
// uplink still works keep it.
func ReselectAfterFailure(g *topology.Graph) []Failover {
	var moved []Failover
	for _, id := range g.SortedGatewayIDs() {
		gw := g.Gateways[id]
		cur := gw.ActiveUplink
		if g.UplinkReachable(gw, cur) {
			continue
		}
		next := ""
		switch {
		case cur == "":
			next = g.PreferredUplink(gw)
		case g.UplinkReachable(gw, otherUplink(gw, cur)):
			next = otherUplink(gw, cur)
		}
		if next != cur {
			moved = append(moved, Failover{Gateway: id, From: cur, To: next})
			gw.ActiveUplink = next
		}
	}
	return moved
}

// ReselectAfterRestore returns every gateway to its primary uplink when
// reachable, else its backup, else none.
func ReselectAfterRestore(g *topology.Graph) []Failover {
	var moved []Failover
	for _, id := range g.SortedGatewayIDs() {
		gw := g.Gateways[id]
		next := g.PreferredUplink(gw)
		if next != gw.ActiveUplink {
			moved = append(moved, Failover{Gateway: id, From: gw.ActiveUplink, To: next})
			gw.ActiveUplink = next
		}
	}
	return moved
}

func otherUplink(gw *topology.Gateway, cur string) string {
	if cur == gw.PrimarySwitch {
		return gw.BackupSwitch
	}
	return gw.PrimarySwitch
}
