package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tessera-trading/advisor/internal/domain"
)

// SimulationRunner starts backtest runs. Satisfied by *simulator.Engine.
type SimulationRunner interface {
	Run(ctx context.Context, run domain.SimulationRun) (domain.SimulationRun, error)
}

// SimulationsHandler lists past backtests and launches new ones.
type SimulationsHandler struct {
	simulations domain.SimulationStore
	runner      SimulationRunner
	logger      *slog.Logger
}

// NewSimulationsHandler creates a SimulationsHandler.
func NewSimulationsHandler(simulations domain.SimulationStore, runner SimulationRunner, logger *slog.Logger) *SimulationsHandler {
	return &SimulationsHandler{simulations: simulations, runner: runner, logger: logHandler(logger, "simulations")}
}

// ListSimulations returns recorded runs, most recent first.
// GET /api/simulations
func (h *SimulationsHandler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	runs, err := h.simulations.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list simulations", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list simulations")
		return
	}
	if runs == nil {
		runs = []domain.SimulationRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"simulations": runs, "count": len(runs)})
}

// GetSimulation returns one run by ID.
// GET /api/simulations/{id}
func (h *SimulationsHandler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	run, err := h.simulations.Get(r.Context(), pathParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "simulation not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load simulation", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load simulation")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type startSimulationRequest struct {
	Name   string                  `json:"name"`
	Config domain.SimulationConfig `json:"config"`
}

// StartSimulation launches a backtest in the background and returns the
// pending run record immediately.
// POST /api/simulations
func (h *SimulationsHandler) StartSimulation(w http.ResponseWriter, r *http.Request) {
	var req startSimulationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Config.StartDate == "" || req.Config.EndDate == "" {
		writeError(w, http.StatusBadRequest, "config.start_date and config.end_date are required")
		return
	}
	name := req.Name
	if name == "" {
		name = req.Config.StartDate + " to " + req.Config.EndDate
	}

	run := domain.NewSimulationRun(name, req.Config)
	if err := h.simulations.Put(r.Context(), run); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to store simulation", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store simulation")
		return
	}

	// Backtests take minutes; detach from the request context.
	go func() {
		if _, err := h.runner.Run(context.Background(), run); err != nil {
			h.logger.Error("simulation run failed",
				slog.String("simulation_id", run.ID), slog.Any("error", err))
		}
	}()

	writeJSON(w, http.StatusAccepted, run)
}
