// Package archiver consumes the control plane stream from RabbitMQ and
// persists it to PostgreSQL.
package archiver

import (
	"time"

	"procodus.dev/sadrn/pkg/wire"
)

// ControlEvent is a control plane event stored in the database.
type ControlEvent struct {
	Timestamp time.Time `gorm:"index:idx_event_timestamp;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	EventID   string    `gorm:"uniqueIndex;not null"`
	Type      string    `gorm:"index:idx_event_type;not null"`
	Severity  string    `gorm:"not null"`
	Message   string    `gorm:"not null"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for ControlEvent model.
func (ControlEvent) TableName() string {
	return "control_events"
}

// PacketRecord is a forwarded packet descriptor stored in the database.
type PacketRecord struct {
	Timestamp  time.Time `gorm:"index:idx_gateway_timestamp;index:idx_packet_timestamp;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	PacketID   string    `gorm:"uniqueIndex;not null"`
	Gateway    string    `gorm:"index:idx_gateway_timestamp;not null"`
	Sensor     string    `gorm:"not null"`
	SensorKind string    `gorm:"not null"`
	Unit       string
	Priority   string   `gorm:"not null"`
	Path       []string `gorm:"serializer:json"`
	Value      float64  `gorm:"not null"`
	Cost       float64  `gorm:"not null"`
	ID         uint     `gorm:"primaryKey"`
}

// TableName specifies the table name for PacketRecord model.
func (PacketRecord) TableName() string {
	return "packet_records"
}

func eventFromWire(ev *wire.Event) *ControlEvent {
	return &ControlEvent{
		EventID:   ev.ID,
		Type:      ev.Type,
		Severity:  ev.Severity,
		Message:   ev.Message,
		Timestamp: ev.Timestamp.UTC(),
	}
}

func packetFromWire(p *wire.Packet) *PacketRecord {
	return &PacketRecord{
		PacketID:   p.ID,
		Gateway:    p.Gateway,
		Sensor:     p.Sensor,
		SensorKind: p.SensorKind,
		Unit:       p.Unit,
		Priority:   p.Priority,
		Path:       append([]string(nil), p.Path...),
		Value:      p.Value,
		Cost:       p.Cost,
		Timestamp:  p.Timestamp.UTC(),
	}
}
