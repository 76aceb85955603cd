package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tessera-trading/advisor/internal/domain"
)

// MemoriesHandler serves the accumulated divergence lessons.
type MemoriesHandler struct {
	memories domain.MemoryStore
	index    domain.MemoryIndex
	logger   *slog.Logger
}

// NewMemoriesHandler creates a MemoriesHandler.
func NewMemoriesHandler(memories domain.MemoryStore, index domain.MemoryIndex, logger *slog.Logger) *MemoriesHandler {
	return &MemoriesHandler{memories: memories, index: index, logger: logHandler(logger, "memories")}
}

// ListMemories returns memories, optionally narrowed by ticker or tags
// through the index.
// GET /api/memories?ticker=&tags=a,b&limit=&since=
func (h *MemoriesHandler) ListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	ticker := strings.ToUpper(q.Get("ticker"))
	var tags []string
	if v := q.Get("tags"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	var (
		mems []domain.Memory
		err  error
	)
	if ticker != "" || len(tags) > 0 {
		mems, err = h.searchIndexed(r, ticker, tags, opts)
	} else {
		mems, err = h.memories.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list memories", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list memories")
		return
	}
	if mems == nil {
		mems = []domain.Memory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": mems, "count": len(mems)})
}

func (h *MemoriesHandler) searchIndexed(r *http.Request, ticker string, tags []string, opts domain.ListOpts) ([]domain.Memory, error) {
	ids, err := h.index.Search(r.Context(), domain.MemoryQuery{
		Ticker: ticker,
		Tags:   tags,
		Since:  opts.Since,
		Limit:  opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	mems := make([]domain.Memory, 0, len(ids))
	for _, id := range ids {
		mem, err := h.memories.Get(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mems = append(mems, mem)
	}
	return mems, nil
}

// GetMemory returns one memory by ID.
// GET /api/memories/{id}
func (h *MemoriesHandler) GetMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := h.memories.Get(r.Context(), pathParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load memory", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load memory")
		return
	}
	writeJSON(w, http.StatusOK, mem)
}
