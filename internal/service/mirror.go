package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tessera-trading/advisor/internal/domain"
)

// MirrorStream is the stream holding a bounded replica of recent
// events. Followers read it on connect to catch up before switching to
// live pub/sub.
const MirrorStream = "events"

// MirrorBridge copies every published event to the external mirror so
// out-of-process followers (dashboard, websocket hub) can tail the
// stream. Mirroring is best effort: the durable record is the event
// log, and a mirror outage never fails a publish.
type MirrorBridge struct {
	mirror domain.EventMirror
	logger *slog.Logger
}

// NewMirrorBridge subscribes the bridge to every event type.
func NewMirrorBridge(bus domain.EventBus, mirror domain.EventMirror, logger *slog.Logger) *MirrorBridge {
	b := &MirrorBridge{
		mirror: mirror,
		logger: logger.With(slog.String("component", "mirror_bridge")),
	}
	bus.Subscribe(domain.EventTypeWildcard, b.handle)
	return b
}

// MirrorChannel is the pub/sub channel an event type is mirrored to.
func MirrorChannel(typ domain.EventType) string {
	return "events:" + string(typ)
}

func (b *MirrorBridge) handle(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("service: mirror marshal: %w", err)
	}

	if err := b.mirror.Publish(ctx, MirrorChannel(event.Type), payload); err != nil {
		b.logger.WarnContext(ctx, "mirror publish failed",
			slog.String("event_type", string(event.Type)), slog.Any("error", err))
	}
	if err := b.mirror.StreamAppend(ctx, MirrorStream, payload); err != nil {
		b.logger.WarnContext(ctx, "mirror stream append failed",
			slog.String("event_type", string(event.Type)), slog.Any("error", err))
	}
	return nil
}
