package handler

import (
	"net/http"
	"time"

	"github.com/tessera-trading/advisor/internal/agent"
	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/portfolio"
)

// StatusHandler serves the backend status (mode, agents, portfolios) for the dashboard.
type StatusHandler struct {
	Mode      string
	agents    *agent.Registry
	tracker   *portfolio.Tracker
	gate      clock.Gate
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler with the given run mode.
func NewStatusHandler(mode string, agents *agent.Registry, tracker *portfolio.Tracker, gate clock.Gate) *StatusHandler {
	return &StatusHandler{
		Mode:      mode,
		agents:    agents,
		tracker:   tracker,
		gate:      gate,
		startedAt: time.Now().UTC(),
	}
}

// GetStatus responds with the current backend mode, registered agents and
// a per-book position count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	books := map[string]any{}
	for _, book := range []domain.PortfolioType{domain.PortfolioAI, domain.PortfolioHuman} {
		summary, err := h.tracker.Summary(r.Context(), book)
		if err != nil {
			books[string(book)] = map[string]any{"error": err.Error()}
			continue
		}
		open := 0
		for _, p := range summary.Positions {
			if p.Open() {
				open++
			}
		}
		books[string(book)] = map[string]any{
			"open_positions": open,
			"total_value":    summary.TotalValue,
			"total_pnl":      summary.TotalPnL,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"clock_mode":     string(h.gate.Mode()),
		"now":            h.gate.Now().Format(time.RFC3339),
		"agents":         h.agents.List(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"portfolios":     books,
	})
}
