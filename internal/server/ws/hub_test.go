package ws

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tessera-trading/advisor/internal/domain"
)

type stubMirror struct {
	entries []domain.MirrorMessage
	reads   []string
	err     error
}

func (m *stubMirror) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (m *stubMirror) Subscribe(ctx context.Context, pattern string) (<-chan domain.MirrorMessage, error) {
	ch := make(chan domain.MirrorMessage)
	close(ch)
	return ch, nil
}

func (m *stubMirror) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (m *stubMirror) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.MirrorMessage, error) {
	m.reads = append(m.reads, stream+"@"+lastID)
	return m.entries, m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestReplayBacklogQueuesRetainedTail(t *testing.T) {
	mirror := &stubMirror{entries: []domain.MirrorMessage{
		{ID: "1-0", Payload: []byte(`{"type":"signal.proposed"}`)},
		{ID: "2-0", Payload: []byte(`{"type":"signal.approved"}`)},
	}}
	hub := NewHub(mirror, testLogger(), Config{Mode: "full", CatchupStream: "events"})

	c := &client{hub: hub, send: make(chan []byte, sendBufferSize), subs: map[string]bool{}}
	hub.replayBacklog(context.Background(), c)

	assert.Equal(t, []string{"events@0"}, mirror.reads, "backlog starts at the retained head")
	next := func(want string) {
		select {
		case got := <-c.send:
			assert.JSONEq(t, want, string(got))
		case <-time.After(time.Second):
			t.Fatal("backlog entry never reached the client buffer")
		}
	}
	next(`{"type":"signal.proposed"}`)
	next(`{"type":"signal.approved"}`)
	assert.Empty(t, c.send)
}

func TestReplayBacklogSkippedWithoutStream(t *testing.T) {
	mirror := &stubMirror{}
	hub := NewHub(mirror, testLogger(), Config{Mode: "full"})

	c := &client{hub: hub, send: make(chan []byte, 1), subs: map[string]bool{}}
	hub.replayBacklog(context.Background(), c)

	assert.Empty(t, mirror.reads)
	assert.Empty(t, c.send)
}
