package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/scheduler"
)

// TasksHandler manages scheduled task definitions.
type TasksHandler struct {
	tasks    domain.TaskStore
	registry *scheduler.Registry
	gate     clock.Gate
	gron     *gronx.Gronx
	logger   *slog.Logger
}

// NewTasksHandler creates a TasksHandler.
func NewTasksHandler(tasks domain.TaskStore, registry *scheduler.Registry, gate clock.Gate, logger *slog.Logger) *TasksHandler {
	return &TasksHandler{
		tasks:    tasks,
		registry: registry,
		gate:     gate,
		gron:     gronx.New(),
		logger:   logHandler(logger, "tasks"),
	}
}

// ListTasks returns all task definitions.
// GET /api/tasks
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list tasks", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

type createTaskRequest struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	CronExpression string         `json:"cron_expression"`
	RunAt          *time.Time     `json:"run_at"`
	Handler        string         `json:"handler"`
	Params         map[string]any `json:"params"`
}

// CreateTask registers a new scheduled task.
// POST /api/tasks
func (h *TasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Handler == "" {
		writeError(w, http.StatusBadRequest, "name and handler are required")
		return
	}
	if _, err := h.registry.Get(req.Handler); err != nil {
		writeError(w, http.StatusBadRequest, "unknown handler: "+req.Handler)
		return
	}

	typ := domain.TaskTypeRecurring
	if req.Type != "" {
		typ = domain.TaskType(req.Type)
	}
	switch typ {
	case domain.TaskTypeRecurring, domain.TaskTypeComparison:
		if !h.gron.IsValid(req.CronExpression) {
			writeError(w, http.StatusBadRequest, "cron_expression is not a valid cron spec")
			return
		}
	case domain.TaskTypeOneOff, domain.TaskTypeResearch:
		if req.RunAt == nil {
			writeError(w, http.StatusBadRequest, "run_at is required for one-shot tasks")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown task type: "+string(typ))
		return
	}

	task := domain.NewTask(req.Name, req.Handler)
	task.Type = typ
	task.CronExpression = req.CronExpression
	task.RunAt = req.RunAt
	task.Params = req.Params
	task.CreatedBy = "api"
	task.CreatedAt = h.gate.Now()

	if err := h.tasks.Put(r.Context(), task); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to store task", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// DeleteTask removes a task definition.
// DELETE /api/tasks/{id}
func (h *TasksHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.tasks.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to delete task", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
