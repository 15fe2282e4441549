package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeItemProgress   Type = "item.progress"
	TypeItemCompleted  Type = "item.completed"
	TypeBatchCompleted Type = "batch.completed"
	TypeJobQueued      Type = "job.queued"
	TypeJobStarted     Type = "job.started"
	TypeJobProgress    Type = "job.progress"
	TypeJobCompleted   Type = "job.completed"
	TypeJobCancelled   Type = "job.cancelled"
	TypeCacheDirty     Type = "cache.dirty"
	TypeCacheCommitted Type = "cache.committed"
	TypeCacheEvicted   Type = "cache.evicted"
	TypeTrashCreated   Type = "trash.created"
	TypeTrashRestored  Type = "trash.restored"
	TypeTrashPurged    Type = "trash.purged"
)

type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
	ActorID   string      `json:"actor_id,omitempty"` // Who triggered the event
}

func New(t Type, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

// Publish is a nil-safe helper for components with an optional bus.
func Publish(bus Bus, t Type, payload interface{}) {
	if bus == nil {
		return
	}
	bus.Publish(New(t, payload))
}
