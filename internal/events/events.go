package events

import "context"

// Streams
const (
	StreamLock   = "events:lock"
	StreamRecord = "events:record"
)

// Event types
const (
	EventRecordLocked   = "record_locked"
	EventRecordUnlocked = "record_unlocked"
	EventLockExpired    = "lock_expired"
	EventRecordUpdated  = "record_updated"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
