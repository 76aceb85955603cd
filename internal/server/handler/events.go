package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/eventlog"
)

const defaultEventLookbackDays = 7

// EventsHandler exposes the event log: external systems push raw input
// events in, and the dashboard reads decision trails back out.
type EventsHandler struct {
	log     *eventlog.Log
	archive domain.BlobReader
	gate    clock.Gate
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler backed by the given log.
func NewEventsHandler(log *eventlog.Log, gate clock.Gate, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{log: log, gate: gate, logger: logHandler(logger, "events")}
}

// WithArchive enables reads of event days already moved to cold storage.
func (h *EventsHandler) WithArchive(archive domain.BlobReader) *EventsHandler {
	h.archive = archive
	return h
}

type ingestRequest struct {
	Type          string         `json:"type"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
}

// IngestEvent accepts an external event and appends it to the log, which
// fans it out to any subscribed pipeline components.
// POST /api/events
func (h *EventsHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Payload == nil {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	typ := domain.EventTypeIntegrationInput
	if req.Type != "" {
		typ = domain.EventType(req.Type)
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	event := domain.NewEvent(typ, source, req.Payload)
	if req.CorrelationID != "" {
		event.CorrelationID = req.CorrelationID
	}

	stored, err := h.log.Publish(r.Context(), event)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to ingest event", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

// ListEvents returns events for a correlation chain or a recent window,
// optionally filtered by type.
// GET /api/events?type=&correlation_id=&days=
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days := defaultEventLookbackDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	var (
		events []domain.Event
		err    error
	)
	if corr := q.Get("correlation_id"); corr != "" {
		events, err = h.log.ByCorrelation(r.Context(), corr, days)
	} else {
		now := h.gate.Now()
		events, err = h.log.ReadRange(r.Context(), now.AddDate(0, 0, -days), now)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read events", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	if typ := q.Get("type"); typ != "" {
		filtered := events[:0]
		for _, e := range events {
			if string(e.Type) == typ {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []domain.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"as_of":  h.gate.Now().Format(time.RFC3339),
	})
}

// GetArchivedDay returns one event-log day that has been moved to cold
// storage. Days still on local disk are served by ListEvents instead.
// GET /api/events/archive/{day}
func (h *EventsHandler) GetArchivedDay(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive storage is not configured")
		return
	}

	day, err := time.Parse("2006-01-02", pathParam(r, "day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}

	key := fmt.Sprintf("archive/events/%s/%s.jsonl", day.Format("2006"), day.Format("2006-01-02"))
	exists, err := h.archive.Exists(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to check archive", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "no archived events for that day")
		return
	}

	rc, err := h.archive.Get(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read archive", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	defer rc.Close()

	var events []domain.Event
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.Event
		if err := json.Unmarshal(line, &e); err != nil {
			h.logger.WarnContext(r.Context(), "skipping malformed archived event", slog.Any("error", err))
			continue
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to scan archive", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"day":    day.Format("2006-01-02"),
		"events": events,
		"count":  len(events),
	})
}
