// Package wire encodes the control plane stream. Every message is a
// protobuf-encoded google.protobuf.Struct carrying a "kind" field and the
// fields of that kind, so consumers need no generated code.
package wire

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind identifies the payload of an envelope.
type Kind string

const (
	KindEvent  Kind = "event"
	KindPacket Kind = "packet"
)

var (
	errUnknownKind  = errors.New("unknown envelope kind")
	errEmptyPayload = errors.New("envelope has no payload")
)

// Event is a control plane event on the wire.
type Event struct {
	ID        string
	Type      string
	Message   string
	Severity  string
	Timestamp time.Time
}

// Packet is a forwarded packet descriptor on the wire.
type Packet struct {
	ID         string
	Gateway    string
	Sensor     string
	SensorKind string
	Value      float64
	Unit       string
	Path       []string
	Cost       float64
	Priority   string
	Timestamp  time.Time
}

// Envelope holds exactly one of Event or Packet.
type Envelope struct {
	Kind   Kind
	Event  *Event
	Packet *Packet
}

// ID returns the id of the payload.
func (e Envelope) ID() string {
	switch {
	case e.Event != nil:
		return e.Event.ID
	case e.Packet != nil:
		return e.Packet.ID
	}
	return ""
}

// NewEventEnvelope wraps ev.
func NewEventEnvelope(ev Event) Envelope {
	return Envelope{Kind: KindEvent, Event: &ev}
}

// NewPacketEnvelope wraps p.
func NewPacketEnvelope(p Packet) Envelope {
	return Envelope{Kind: KindPacket, Packet: &p}
}

// Marshal encodes e.
func Marshal(e Envelope) ([]byte, error) {
	fields := map[string]any{"kind": string(e.Kind)}
	switch e.Kind {
	case KindEvent:
		if e.Event == nil {
			return nil, errEmptyPayload
		}
		fields["id"] = e.Event.ID
		fields["type"] = e.Event.Type
		fields["message"] = e.Event.Message
		fields["severity"] = e.Event.Severity
		fields["timestamp"] = e.Event.Timestamp.UTC().Format(time.RFC3339Nano)
	case KindPacket:
		if e.Packet == nil {
			return nil, errEmptyPayload
		}
		path := make([]any, len(e.Packet.Path))
		for i, n := range e.Packet.Path {
			path[i] = n
		}
		fields["id"] = e.Packet.ID
		fields["gateway"] = e.Packet.Gateway
		fields["sensor"] = e.Packet.Sensor
		fields["sensor_kind"] = e.Packet.SensorKind
		fields["value"] = e.Packet.Value
		fields["unit"] = e.Packet.Unit
		fields["path"] = path
		fields["cost"] = e.Packet.Cost
		fields["priority"] = e.Packet.Priority
		fields["timestamp"] = e.Packet.Timestamp.UTC().Format(time.RFC3339Nano)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownKind, e.Kind)
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}
	return proto.Marshal(s)
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	f := s.GetFields()
	kind := Kind(f["kind"].GetStringValue())
	ts, err := parseTime(f["timestamp"].GetStringValue())
	if err != nil {
		return Envelope{}, err
	}

	switch kind {
	case KindEvent:
		return NewEventEnvelope(Event{
			ID:        f["id"].GetStringValue(),
			Type:      f["type"].GetStringValue(),
			Message:   f["message"].GetStringValue(),
			Severity:  f["severity"].GetStringValue(),
			Timestamp: ts,
		}), nil
	case KindPacket:
		var path []string
		for _, v := range f["path"].GetListValue().GetValues() {
			path = append(path, v.GetStringValue())
		}
		return NewPacketEnvelope(Packet{
			ID:         f["id"].GetStringValue(),
			Gateway:    f["gateway"].GetStringValue(),
			Sensor:     f["sensor"].GetStringValue(),
			SensorKind: f["sensor_kind"].GetStringValue(),
			Value:      f["value"].GetNumberValue(),
			Unit:       f["unit"].GetStringValue(),
			Path:       path,
			Cost:       f["cost"].GetNumberValue(),
			Priority:   f["priority"].GetStringValue(),
			Timestamp:  ts,
		}), nil
	default:
		return Envelope{}, fmt.Errorf("%w: %q", errUnknownKind, kind)
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode envelope timestamp: %w", err)
	}
	return t, nil
}
