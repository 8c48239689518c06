package topology

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed template.yaml
var defaultTemplate []byte

var errInvalidTemplate = errors.New("invalid topology template")

// Template is the fixed initial topology a store is built from and reset to.
type Template struct {
	Switches     []Switch  `yaml:"switches"`
	SwitchLinks  []Link    `yaml:"switch_links"`
	Gateways     []Gateway `yaml:"gateways"`
	GatewayLinks []Link    `yaml:"gateway_links"`
	Sensors      []Sensor  `yaml:"sensors"`
	Display      Display   `yaml:"display"`
}

// DefaultTemplate returns the built-in three-zone deployment.
func DefaultTemplate() *Template {
	tpl, err := ParseTemplate(defaultTemplate)
	if err != nil {
		panic(fmt.Sprintf("embedded topology template: %v", err))
	}
	return tpl
}

// LoadTemplate reads and validates a YAML template from path.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return ParseTemplate(data)
}

// ParseTemplate decodes and validates a YAML template.
func ParseTemplate(data []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Validate checks referential integrity of the template.
func (t *Template) Validate() error {
	ids := make(map[string]struct{})
	claim := func(id string) error {
		if id == "" {
			return fmt.Errorf("%w: empty id", errInvalidTemplate)
		}
		if _, dup := ids[id]; dup {
			return fmt.Errorf("%w: duplicate id %q", errInvalidTemplate, id)
		}
		ids[id] = struct{}{}
		return nil
	}

	switches := make(map[string]struct{}, len(t.Switches))
	for _, sw := range t.Switches {
		if err := claim(sw.ID); err != nil {
			return err
		}
		if sw.Kind != SwitchCore && sw.Kind != SwitchZone {
			return fmt.Errorf("%w: switch %q has unknown type %q", errInvalidTemplate, sw.ID, sw.Kind)
		}
		switches[sw.ID] = struct{}{}
	}

	gateways := make(map[string]*Gateway, len(t.Gateways))
	for i := range t.Gateways {
		gw := &t.Gateways[i]
		if err := claim(gw.ID); err != nil {
			return err
		}
		for _, ref := range []string{gw.PrimarySwitch, gw.BackupSwitch} {
			if _, ok := switches[ref]; !ok {
				return fmt.Errorf("%w: gateway %q references unknown switch %q", errInvalidTemplate, gw.ID, ref)
			}
		}
		if gw.PrimarySwitch == gw.BackupSwitch {
			return fmt.Errorf("%w: gateway %q primary and backup are both %q", errInvalidTemplate, gw.ID, gw.PrimarySwitch)
		}
		gateways[gw.ID] = gw
	}

	for _, l := range t.SwitchLinks {
		if err := claim(l.ID); err != nil {
			return err
		}
		_, okA := switches[l.Source]
		_, okB := switches[l.Target]
		if !okA || !okB || l.Source == l.Target {
			return fmt.Errorf("%w: switch link %q has invalid endpoints %q-%q", errInvalidTemplate, l.ID, l.Source, l.Target)
		}
		if l.Latency < 0 {
			return fmt.Errorf("%w: link %q has negative latency", errInvalidTemplate, l.ID)
		}
	}

	for _, l := range t.GatewayLinks {
		if err := claim(l.ID); err != nil {
			return err
		}
		gw, okGW := gateways[l.Source]
		if !okGW {
			return fmt.Errorf("%w: gateway link %q source %q is not a gateway", errInvalidTemplate, l.ID, l.Source)
		}
		if l.Target != gw.PrimarySwitch && l.Target != gw.BackupSwitch {
			return fmt.Errorf("%w: gateway link %q targets %q which is not an uplink of %q", errInvalidTemplate, l.ID, l.Target, gw.ID)
		}
		if l.Latency < 0 {
			return fmt.Errorf("%w: link %q has negative latency", errInvalidTemplate, l.ID)
		}
	}

	for _, s := range t.Sensors {
		if err := claim(s.ID); err != nil {
			return err
		}
		if _, ok := gateways[s.Gateway]; !ok {
			return fmt.Errorf("%w: sensor %q references unknown gateway %q", errInvalidTemplate, s.ID, s.Gateway)
		}
		if s.ThresholdWarning >= s.ThresholdEmergency {
			return fmt.Errorf("%w: sensor %q warning threshold must be below emergency threshold", errInvalidTemplate, s.ID)
		}
	}

	sensorGateway := make(map[string]string, len(t.Sensors))
	for _, s := range t.Sensors {
		sensorGateway[s.ID] = s.Gateway
	}
	listed := make(map[string]bool, len(t.Sensors))
	for _, gw := range gateways {
		for _, sid := range gw.Sensors {
			if sensorGateway[sid] != gw.ID {
				return fmt.Errorf("%w: gateway %q lists sensor %q it does not own", errInvalidTemplate, gw.ID, sid)
			}
			listed[sid] = true
		}
	}
	for _, s := range t.Sensors {
		if !listed[s.ID] {
			return fmt.Errorf("%w: sensor %q is not listed by its gateway %q", errInvalidTemplate, s.ID, s.Gateway)
		}
	}

	if len(t.Display.ConnectedSwitches) == 0 {
		return fmt.Errorf("%w: control center has no connected switches", errInvalidTemplate)
	}
	for _, ref := range t.Display.ConnectedSwitches {
		if _, ok := switches[ref]; !ok {
			return fmt.Errorf("%w: control center references unknown switch %q", errInvalidTemplate, ref)
		}
	}
	return nil
}

// Build instantiates a fresh graph from the template with every entity
// active and all derived fields computed.
func (t *Template) Build() *Graph {
	g := &Graph{
		Switches: make(map[string]*Switch, len(t.Switches)),
		Gateways: make(map[string]*Gateway, len(t.Gateways)),
		Sensors:  make(map[string]*Sensor, len(t.Sensors)),
	}
	for _, sw := range t.Switches {
		sw.Status = StatusActive
		sw.Battery = ClampPercent(sw.Battery)
		g.Switches[sw.ID] = &sw
	}
	for _, l := range t.SwitchLinks {
		l.Status = StatusActive
		g.SwitchLinks = append(g.SwitchLinks, &l)
	}
	for _, l := range t.GatewayLinks {
		l.Status = StatusActive
		g.GatewayLinks = append(g.GatewayLinks, &l)
	}
	for _, gw := range t.Gateways {
		gw.Sensors = append([]string(nil), gw.Sensors...)
		g.Gateways[gw.ID] = &gw
	}
	for _, s := range t.Sensors {
		s.Value = ClampPercent(s.Value)
		g.Sensors[s.ID] = &s
	}
	g.Display = Display{
		ID:                t.Display.ID,
		Name:              t.Display.Name,
		IP:                t.Display.IP,
		ConnectedSwitches: append([]string(nil), t.Display.ConnectedSwitches...),
	}
	if g.Display.ID == "" {
		g.Display.ID = ControlCenterID
	}
	g.Recompute()
	for _, gw := range g.Gateways {
		gw.ActiveUplink = g.PreferredUplink(gw)
	}
	return g
}
