package archiver

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/wire"
)

// MaxQueryLimit caps the rows returned by one query.
const MaxQueryLimit = 500

// Store persists and reads archived stream messages.
type Store interface {
	SaveEvent(ctx context.Context, ev *wire.Event) error
	SavePacket(ctx context.Context, p *wire.Packet) error
	RecentEvents(ctx context.Context, limit int) ([]ControlEvent, error)
	RecentPackets(ctx context.Context, gateway string, limit int) ([]PacketRecord, error)
}

// GormStore is the PostgreSQL Store.
type GormStore struct {
	db      *gorm.DB
	metrics *metrics.ArchiverMetrics
}

// NewGormStore returns a store over db. m may be nil.
func NewGormStore(db *gorm.DB, m *metrics.ArchiverMetrics) (*GormStore, error) {
	if db == nil {
		return nil, errDBRequired
	}
	return &GormStore{db: db, metrics: m}, nil
}

// SaveEvent inserts ev. Redelivered events are ignored.
func (s *GormStore) SaveEvent(ctx context.Context, ev *wire.Event) error {
	return s.track("insert", "control_events", func() error {
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
			Create(eventFromWire(ev)).Error
		if err != nil {
			return fmt.Errorf("failed to create control event: %w", err)
		}
		return nil
	})
}

// SavePacket inserts p. Redelivered packets are ignored.
func (s *GormStore) SavePacket(ctx context.Context, p *wire.Packet) error {
	return s.track("insert", "packet_records", func() error {
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "packet_id"}}, DoNothing: true}).
			Create(packetFromWire(p)).Error
		if err != nil {
			return fmt.Errorf("failed to create packet record: %w", err)
		}
		return nil
	})
}

// RecentEvents returns up to limit events, newest first.
func (s *GormStore) RecentEvents(ctx context.Context, limit int) ([]ControlEvent, error) {
	var events []ControlEvent
	err := s.track("select", "control_events", func() error {
		return s.db.WithContext(ctx).
			Order("timestamp DESC, id DESC").
			Limit(clampLimit(limit)).
			Find(&events).Error
	})
	return events, err
}

// RecentPackets returns up to limit packets, newest first, optionally for
// one gateway.
func (s *GormStore) RecentPackets(ctx context.Context, gateway string, limit int) ([]PacketRecord, error) {
	var records []PacketRecord
	err := s.track("select", "packet_records", func() error {
		q := s.db.WithContext(ctx)
		if gateway != "" {
			q = q.Where("gateway = ?", gateway)
		}
		return q.Order("timestamp DESC, id DESC").
			Limit(clampLimit(limit)).
			Find(&records).Error
	})
	return records, err
}

func (s *GormStore) track(op, table string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.DBOperationsTotal.WithLabelValues(op, table, status).Inc()
		s.metrics.DBOperationDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
