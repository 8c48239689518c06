// Package topology holds the canonical SADRN network graph: switches, links,
// gateways and sensors, plus the derived fields computed from them.
package topology

// Status is the operational state of a switch or link.
type Status string

const (
	StatusActive Status = "active"
	StatusFailed Status = "failed"
)

// SwitchKind distinguishes backbone switches from edge switches.
type SwitchKind string

const (
	SwitchCore SwitchKind = "core"
	SwitchZone SwitchKind = "zone"
)

// LinkKind classifies a link by its role in the topology.
type LinkKind string

const (
	LinkCoreMesh          LinkKind = "core-mesh"
	LinkZoneUplinkPrimary LinkKind = "zone-uplink-primary"
	LinkZoneUplinkBackup  LinkKind = "zone-uplink-backup"
)

// FailureCause records why a failed link is down.
type FailureCause string

const (
	CauseNone     FailureCause = ""
	CauseOperator FailureCause = "operator"
	CauseSwitch   FailureCause = "switch"
)

// SensorKind is the disaster class a sensor monitors.
type SensorKind string

const (
	SensorFlood      SensorKind = "flood"
	SensorEarthquake SensorKind = "earthquake"
	SensorFire       SensorKind = "fire"
)

// Priority is the severity level of a sensor reading or a gateway aggregate.
type Priority string

const (
	PriorityNormal    Priority = "NORMAL"
	PriorityWarning   Priority = "WARNING"
	PriorityEmergency Priority = "EMERGENCY"
)

// Rank orders priorities so that the maximum can be taken.
func (p Priority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 2
	case PriorityWarning:
		return 1
	default:
		return 0
	}
}

// MaxPriority returns the more severe of a and b.
func MaxPriority(a, b Priority) Priority {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ControlCenterID is the node id of the control center in route paths.
const ControlCenterID = "display"

// Switch is an SDN switch.
type Switch struct {
	ID      string     `json:"id" yaml:"id"`
	Name    string     `json:"name" yaml:"name"`
	Kind    SwitchKind `json:"type" yaml:"type"`
	Status  Status     `json:"status" yaml:"-"`
	Battery float64    `json:"battery" yaml:"battery"`
}

// Link connects two switches, or a gateway to a switch. Source is the gateway
// for gateway links.
type Link struct {
	ID        string       `json:"id" yaml:"id"`
	Source    string       `json:"source" yaml:"source"`
	Target    string       `json:"target" yaml:"target"`
	Kind      LinkKind     `json:"type" yaml:"type"`
	Bandwidth int          `json:"bandwidth" yaml:"bandwidth"`
	Latency   float64      `json:"latency" yaml:"latency"`
	Status    Status       `json:"status" yaml:"-"`
	Cause     FailureCause `json:"cause,omitempty" yaml:"-"`

	operatorFailed bool
}

// OperatorFailed reports whether the link was failed explicitly rather than
// as a consequence of a switch failure.
func (l *Link) OperatorFailed() bool {
	return l.operatorFailed
}

// Touches reports whether id is one of the link endpoints.
func (l *Link) Touches(id string) bool {
	return l.Source == id || l.Target == id
}

// Other returns the endpoint opposite to id.
func (l *Link) Other(id string) string {
	if l.Source == id {
		return l.Target
	}
	return l.Source
}

// Gateway aggregates a cluster of sensors behind a primary and a backup uplink.
type Gateway struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	IP            string   `json:"ip" yaml:"ip"`
	PrimarySwitch string   `json:"primary_switch" yaml:"primary_switch"`
	BackupSwitch  string   `json:"backup_switch" yaml:"backup_switch"`
	ActiveUplink  string   `json:"active_uplink" yaml:"-"`
	Priority      Priority `json:"priority" yaml:"-"`
	Sensors       []string `json:"sensors" yaml:"sensors"`
}

// Sensor is a field sensor attached to a gateway.
type Sensor struct {
	ID                 string     `json:"id" yaml:"id"`
	Name               string     `json:"name" yaml:"name"`
	Gateway            string     `json:"gateway" yaml:"gateway"`
	Kind               SensorKind `json:"type" yaml:"type"`
	Value              float64    `json:"value" yaml:"value"`
	ThresholdWarning   float64    `json:"threshold_warning" yaml:"threshold_warning"`
	ThresholdEmergency float64    `json:"threshold_emergency" yaml:"threshold_emergency"`
	Unit               string     `json:"unit" yaml:"unit"`
	Status             Priority   `json:"status" yaml:"-"`
	Battery            float64    `json:"battery" yaml:"battery"`
	SignalStrength     float64    `json:"signal_strength" yaml:"signal_strength"`
	IP                 string     `json:"ip" yaml:"ip"`
}

// Classify returns the status a value maps to under the sensor thresholds.
func (s *Sensor) Classify(value float64) Priority {
	switch {
	case value >= s.ThresholdEmergency:
		return PriorityEmergency
	case value >= s.ThresholdWarning:
		return PriorityWarning
	default:
		return PriorityNormal
	}
}

// Reading is a forwarded sample shown on the control center display.
type Reading struct {
	SensorID   string   `json:"sensor_id"`
	SensorName string   `json:"sensor_name"`
	Value      float64  `json:"value"`
	Unit       string   `json:"unit"`
	Priority   Priority `json:"priority"`
	Timestamp  string   `json:"timestamp"`
}

// Display is the control center every route terminates at.
type Display struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	IP                string    `json:"ip" yaml:"ip"`
	ConnectedSwitches []string  `json:"connected_switches" yaml:"connected_switches"`
	CurrentData       []Reading `json:"current_data" yaml:"-"`
}

// ClampPercent bounds v to [0,100].
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
