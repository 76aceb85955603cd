package handler

import (
	"log/slog"
	"net/http"

	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/portfolio"
)

// PortfolioHandler serves portfolio summaries for both books.
type PortfolioHandler struct {
	tracker *portfolio.Tracker
	logger  *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler backed by the given tracker.
func NewPortfolioHandler(tracker *portfolio.Tracker, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{tracker: tracker, logger: logHandler(logger, "portfolio")}
}

// GetPortfolios returns side-by-side summaries of the paper and human books.
// GET /api/portfolio
func (h *PortfolioHandler) GetPortfolios(w http.ResponseWriter, r *http.Request) {
	out := map[string]domain.PortfolioSummary{}
	for _, book := range []domain.PortfolioType{domain.PortfolioAI, domain.PortfolioHuman} {
		summary, err := h.tracker.Summary(r.Context(), book)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "failed to summarize portfolio",
				slog.String("portfolio", string(book)), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to summarize portfolio")
			return
		}
		out[string(book)] = summary
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPortfolio returns the summary for a single book.
// GET /api/portfolio/{book}
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	book := domain.PortfolioType(pathParam(r, "book"))
	if book != domain.PortfolioAI && book != domain.PortfolioHuman {
		writeError(w, http.StatusBadRequest, "book must be \"ai\" or \"human\"")
		return
	}

	summary, err := h.tracker.Summary(r.Context(), book)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to summarize portfolio",
			slog.String("portfolio", string(book)), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to summarize portfolio")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
