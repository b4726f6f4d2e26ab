package history

import (
	"context"
	"io"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventCleared EventType = "cleared"
)

// Table is the default table name used by the SQL and ClickHouse sinks.
const Table = "supervisor_history"

// Event is one lifecycle transition of the managed UI process.
// Detail carries the free-form reason: the stop outcome, or why a stale record was cleared.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	App        string    `json:"app"`
	StartedAt  time.Time `json:"started_at"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Close closes s when it holds resources.
func Close(s Sink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
