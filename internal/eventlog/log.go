// Package eventlog keeps a bounded, newest-first history of control plane
// events.
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of events kept when none is configured.
const DefaultCapacity = 50

// Severity grades an event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Type categorises an event by its source.
type Type string

const (
	TypeFailure Type = "FAILURE"
	TypeRestore Type = "RESTORE"
	TypeSensor  Type = "SENSOR"
	TypeIntent  Type = "INTENT"
	TypeBattery Type = "BATTERY"
	TypeSystem  Type = "SYSTEM"
)

// Event is one entry in the log.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is a fixed-size ring of events. It is safe for concurrent use.
type Log struct {
	mu     sync.RWMutex
	events []Event
	next   int
	size   int
	now    func() time.Time
}

// New returns a log holding at most capacity events. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{events: make([]Event, capacity), now: time.Now}
}

// Append records an event, evicting the oldest when full, and returns it.
func (l *Log) Append(typ Type, severity Severity, message string) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Message:   message,
		Severity:  severity,
		Timestamp: l.now().UTC(),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = ev
	l.next = (l.next + 1) % len(l.events)
	if l.size < len(l.events) {
		l.size++
	}
	return ev
}

// Recent returns up to n events, newest first. n <= 0 or larger than the
// log returns everything held.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.events)) % len(l.events)
		out = append(out, l.events[idx])
	}
	return out
}

// Len returns the number of events held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of events held.
func (l *Log) Capacity() int {
	return len(l.events)
}

// Reset drops every event.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.events)
	l.next = 0
	l.size = 0
}
