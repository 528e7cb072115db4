package journal

import (
	"context"
	"time"
)

// Event types and descriptions written by a sync run.
const (
	TypeSync = "sync"

	SyncCompleted = "sync_completed"
	SyncFailed    = "sync_failed"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string // e.g., "sync"
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
