package domain

import (
	"context"
	"time"
)

// EventTypeWildcard subscribes a handler to every event type.
const EventTypeWildcard EventType = "*"

// EventHandler consumes a published event. A handler error is logged
// by the bus and never blocks other subscribers.
type EventHandler func(ctx context.Context, event Event) error

// EventBus is the append-then-dispatch pipeline backbone. Publish
// persists the event to the audit log before any subscriber sees it
// and returns the stamped copy.
type EventBus interface {
	Publish(ctx context.Context, event Event) (Event, error)
	Subscribe(eventType EventType, handler EventHandler)
}

// MirrorMessage is one entry received from the external event mirror.
// ID is set for stream entries, Channel for pub/sub deliveries.
type MirrorMessage struct {
	ID      string
	Channel string
	Payload []byte
}

// EventMirror fans events out to an external broker so other
// processes (dashboards, notifiers) can follow the stream.
type EventMirror interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, pattern string) (<-chan MirrorMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]MirrorMessage, error)
}

// RateLimiter bounds the rate of calls to an external dependency.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides exclusive task locks across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
