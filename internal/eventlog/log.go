// Package eventlog persists every event to append-only daily JSONL
// files and fans them out to in-process subscribers. The file is
// written before any subscriber runs, so the audit trail is complete
// even when a handler fails.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
)

const dayFormat = "2006-01-02"

// Log is the JSONL-backed event log and in-process bus.
type Log struct {
	dir    string
	gate   clock.Gate
	logger *slog.Logger

	appendMu sync.Mutex

	subsMu   sync.RWMutex
	subs     map[domain.EventType][]domain.EventHandler
	wildcard []domain.EventHandler
}

// New opens (and creates if needed) the events directory.
func New(dir string, gate clock.Gate, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create dir: %w", err)
	}
	return &Log{
		dir:    dir,
		gate:   gate,
		logger: logger.With(slog.String("component", "eventlog")),
		subs:   make(map[domain.EventType][]domain.EventHandler),
	}, nil
}

var _ domain.EventBus = (*Log)(nil)

// Publish stamps, persists, then dispatches the event. The returned
// copy carries the stamped timestamp and any filled identifiers.
func (l *Log) Publish(ctx context.Context, event domain.Event) (domain.Event, error) {
	if event.ID == "" {
		event.ID = domain.NewID("evt")
	}
	if event.CorrelationID == "" {
		event.CorrelationID = domain.NewCorrelationID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.gate.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	if err := l.append(event); err != nil {
		return domain.Event{}, err
	}
	l.dispatch(ctx, event)
	return event, nil
}

// Subscribe registers a handler for one event type, or every type via
// domain.EventTypeWildcard. Handlers run in publish order; an error in
// one never blocks the others.
func (l *Log) Subscribe(eventType domain.EventType, handler domain.EventHandler) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	if eventType == domain.EventTypeWildcard {
		l.wildcard = append(l.wildcard, handler)
		return
	}
	l.subs[eventType] = append(l.subs[eventType], handler)
}

func (l *Log) append(event domain.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventlog: marshal: %w", err)
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	path := l.pathForDay(event.Timestamp)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("eventlog: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("eventlog: sync %s: %w", path, err)
	}
	return nil
}

func (l *Log) dispatch(ctx context.Context, event domain.Event) {
	l.subsMu.RLock()
	handlers := make([]domain.EventHandler, 0, len(l.subs[event.Type])+len(l.wildcard))
	handlers = append(handlers, l.subs[event.Type]...)
	handlers = append(handlers, l.wildcard...)
	l.subsMu.RUnlock()

	for _, h := range handlers {
		l.invoke(ctx, h, event)
	}
}

func (l *Log) invoke(ctx context.Context, h domain.EventHandler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "event handler panicked",
				slog.String("event_type", string(event.Type)),
				slog.String("correlation_id", event.CorrelationID),
				slog.Any("panic", r))
		}
	}()
	if err := h(ctx, event); err != nil {
		l.logger.ErrorContext(ctx, "event handler failed",
			slog.String("event_type", string(event.Type)),
			slog.String("correlation_id", event.CorrelationID),
			slog.String("error", err.Error()))
	}
}

// ReadDay returns the day's events visible at the gate's current time,
// in append order.
func (l *Log) ReadDay(ctx context.Context, day time.Time) ([]domain.Event, error) {
	return l.readFile(ctx, l.pathForDay(day))
}

// ReadRange returns events across [from, to] calendar days, filtered
// to what is visible now.
func (l *Log) ReadRange(ctx context.Context, from, to time.Time) ([]domain.Event, error) {
	var out []domain.Event
	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to.UTC()); day = day.Add(24 * time.Hour) {
		events, err := l.ReadDay(ctx, day)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

// ByCorrelation returns the chain of events sharing a correlation ID,
// scanning back the given number of days from the gate's current day.
func (l *Log) ByCorrelation(ctx context.Context, correlationID string, lookbackDays int) ([]domain.Event, error) {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	now := l.gate.Now()
	events, err := l.ReadRange(ctx, now.AddDate(0, 0, -(lookbackDays-1)), now)
	if err != nil {
		return nil, err
	}
	var chain []domain.Event
	for _, e := range events {
		if e.CorrelationID == correlationID {
			chain = append(chain, e)
		}
	}
	return chain, nil
}

// CountOnDay counts visible events of one type on a calendar day.
func (l *Log) CountOnDay(ctx context.Context, day time.Time, eventType domain.EventType) (int, error) {
	events, err := l.ReadDay(ctx, day)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range events {
		if e.Type == eventType {
			count++
		}
	}
	return count, nil
}

// Dir returns the directory holding the daily files.
func (l *Log) Dir() string { return l.dir }

func (l *Log) readFile(ctx context.Context, path string) ([]domain.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()

	now := l.gate.Now()
	var events []domain.Event

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.Event
		if err := json.Unmarshal(line, &e); err != nil {
			// Tolerate a torn tail line from a crashed append.
			l.logger.WarnContext(ctx, "skipping malformed event line",
				slog.String("file", filepath.Base(path)))
			continue
		}
		if e.Timestamp.After(now) {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan %s: %w", path, err)
	}
	return events, nil
}

func (l *Log) pathForDay(day time.Time) string {
	return filepath.Join(l.dir, day.UTC().Format(dayFormat)+".jsonl")
}
