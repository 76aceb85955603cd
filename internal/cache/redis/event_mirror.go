package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tessera-trading/advisor/internal/domain"
)

// defaultStreamMaxLen is the approximate maximum length for the event
// stream, enforced via XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 10000

// EventMirror implements domain.EventMirror using Redis Pub/Sub for
// ephemeral fan-out (dashboards, notifier processes) and Redis Streams
// for a bounded, ordered replica of recent events. The mirror is a
// best-effort copy of the JSONL event log, never the source of truth.
type EventMirror struct {
	rdb    *redis.Client
	maxLen int64
}

// NewEventMirror creates an EventMirror backed by the given Client.
func NewEventMirror(c *Client) *EventMirror {
	return &EventMirror{rdb: c.Underlying(), maxLen: defaultStreamMaxLen}
}

// NewEventMirrorWithMaxLen creates an EventMirror with a custom
// approximate stream cap.
func NewEventMirrorWithMaxLen(c *Client, maxLen int64) *EventMirror {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &EventMirror{rdb: c.Underlying(), maxLen: maxLen}
}

var _ domain.EventMirror = (*EventMirror)(nil)

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (m *EventMirror) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := m.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription and returns a read-only
// channel of mirror messages. The subscription is automatically closed
// when the context is cancelled; the returned channel is closed at that
// point as well.
func (m *EventMirror) Subscribe(ctx context.Context, pattern string) (<-chan domain.MirrorMessage, error) {
	var pubsub *redis.PubSub
	if hasPattern(pattern) {
		pubsub = m.rdb.PSubscribe(ctx, pattern)
	} else {
		pubsub = m.rdb.Subscribe(ctx, pattern)
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", pattern, err)
	}

	out := make(chan domain.MirrorMessage, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.MirrorMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a Redis stream using XADD with an
// approximate MAXLEN for automatic trimming.
func (m *EventMirror) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := m.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count messages from a Redis stream starting after
// lastID. Use "0" or "0-0" as lastID to read from the beginning, or "$" to
// read only new messages. It returns an empty slice (not an error) when no
// messages are available.
func (m *EventMirror) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.MirrorMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}

	results, err := m.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.MirrorMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values["payload"]
			if !ok {
				continue
			}

			var data []byte
			switch v := payload.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			messages = append(messages, domain.MirrorMessage{
				ID:      msg.ID,
				Payload: data,
			})
		}
	}

	return messages, nil
}
