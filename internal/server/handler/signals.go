package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/service"
)

// SignalsHandler exposes the signal lifecycle: listing proposals and
// recording the human's confirm / skip / trade-report responses.
type SignalsHandler struct {
	signals domain.SignalStore
	svc     *service.SignalService
	logger  *slog.Logger
}

// NewSignalsHandler creates a SignalsHandler.
func NewSignalsHandler(signals domain.SignalStore, svc *service.SignalService, logger *slog.Logger) *SignalsHandler {
	return &SignalsHandler{signals: signals, svc: svc, logger: logHandler(logger, "signals")}
}

// ListSignals returns signals, most recent first.
// GET /api/signals?limit=&offset=&since=&until=
func (h *SignalsHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.signals.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list signals", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	if sigs == nil {
		sigs = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": sigs, "count": len(sigs)})
}

// GetSignal returns one signal by ID.
// GET /api/signals/{id}
func (h *SignalsHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := h.signals.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeSignalError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

type confirmRequest struct {
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	Notes      string  `json:"notes"`
}

// ConfirmSignal records that the human executed the signal.
// POST /api/signals/{id}/confirm
func (h *SignalsHandler) ConfirmSignal(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pos, err := h.svc.Confirm(r.Context(), pathParam(r, "id"), req.EntryPrice, req.Quantity, "api", req.Notes)
	if err != nil {
		writeSignalError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type skipRequest struct {
	Notes string `json:"notes"`
}

// SkipSignal records that the human declined the signal.
// POST /api/signals/{id}/skip
func (h *SignalsHandler) SkipSignal(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pos, err := h.svc.Skip(r.Context(), pathParam(r, "id"), "api", req.Notes)
	if err != nil {
		writeSignalError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type tradeReportRequest struct {
	Ticker     string   `json:"ticker"`
	Direction  string   `json:"direction"`
	EntryPrice float64  `json:"entry_price"`
	Size       *float64 `json:"size"`
	Notes      string   `json:"notes"`
}

// ReportTrade records a trade the human made without a matching signal.
// POST /api/trades
func (h *SignalsHandler) ReportTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeReportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	dir := domain.PositionDirection(req.Direction)
	if dir != domain.PositionLong && dir != domain.PositionShort {
		writeError(w, http.StatusBadRequest, "direction must be \"long\" or \"short\"")
		return
	}
	pos, err := h.svc.ReportTrade(r.Context(), req.Ticker, dir, req.EntryPrice, req.Size, "api", req.Notes)
	if err != nil {
		writeSignalError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type closeRequest struct {
	ClosePrice float64 `json:"close_price"`
}

// ClosePosition records that the human closed their position in a ticker.
// POST /api/positions/{ticker}/close
func (h *SignalsHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pos, err := h.svc.ReportClose(r.Context(), pathParam(r, "ticker"), req.ClosePrice, "api")
	if err != nil {
		writeSignalError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func writeSignalError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.ErrorContext(r.Context(), "signal operation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
