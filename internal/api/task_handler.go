package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/taskwell/taskwell/internal/api/shared"
	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/engine"
	"github.com/taskwell/taskwell/internal/store"
)

// SubmitTaskRequest represents the request body for submitting a new task.
// Zero values for priority, timeout and retries fall back to the engine's
// configured defaults.
type SubmitTaskRequest struct {
	Type           string          `json:"type"            validate:"required,min=1"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"        validate:"omitempty,min=1,max=4"`
	TimeoutSeconds int             `json:"timeout_seconds" validate:"omitempty,min=1"`
	MaxRetries     *int            `json:"max_retries"     validate:"omitempty"`
	CorrelationID  string          `json:"correlation_id"`
}

// SubmitTaskResponse is returned when a task has been accepted for
// asynchronous processing.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResponse represents the response data for a task record.
type TaskResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Priority      string          `json:"priority"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// CancelTaskResponse reports whether a cancellation request took effect.
type CancelTaskResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	engine    *engine.Engine
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(eng *engine.Engine) *TaskHandler {
	return &TaskHandler{
		engine:    eng,
		validator: validator.New(),
	}
}

// SubmitTask handles POST /api/tasks requests.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	submit := engine.SubmitRequest{
		Type:        req.Type,
		Payload:     req.Payload,
		Timeout:     time.Duration(req.TimeoutSeconds) * time.Second,
		MaxRetries:  req.MaxRetries,
		Correlation: req.CorrelationID,
	}
	if req.Priority != 0 {
		priority, err := domain.TaskPriorityFromRank(req.Priority)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid priority")
			return
		}
		submit.Priority = priority
	}

	id, err := h.engine.SubmitTask(r.Context(), submit)
	if err != nil {
		shared.RespondWithErrorAndLog(
			w, r, http.StatusInternalServerError, "Failed to submit task", err)
		return
	}

	// 202 Accepted: the task is recorded but processed asynchronously.
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: id.String(),
		Status: string(domain.TaskStatusPending),
	})
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDFromRequest(w, r)
	if !ok {
		return
	}

	task, err := h.engine.GetTaskStatus(r.Context(), id)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(
			w, r, http.StatusInternalServerError, "Failed to fetch task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToDTOResponse(task))
}

// CancelTask handles DELETE /api/tasks/{id} requests. Cancellation only
// takes effect while the task is still pending; the response reports
// whether it did.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDFromRequest(w, r)
	if !ok {
		return
	}

	cancelled, err := h.engine.CancelTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(
			w, r, http.StatusInternalServerError, "Failed to cancel task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, CancelTaskResponse{
		TaskID:    id.String(),
		Cancelled: cancelled,
	})
}

// GetQueueInfo handles GET /api/queue requests.
func (h *TaskHandler) GetQueueInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.GetQueueInfo(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(
			w, r, http.StatusInternalServerError, "Failed to fetch queue info", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, info)
}

// GetStats handles GET /api/stats requests.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetStats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(
			w, r, http.StatusInternalServerError, "Failed to fetch stats", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// taskIDFromRequest parses the {id} URL parameter, writing a 400 response
// and returning ok=false when it is not a valid UUID.
func taskIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		slog.Debug("rejected malformed task id", "id", raw)
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}

// taskToDTOResponse converts a domain.Task to a TaskResponse.
func taskToDTOResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:            task.ID.String(),
		Type:          task.Type,
		Status:        string(task.Status),
		Priority:      task.Priority.String(),
		CreatedAt:     task.CreatedAt,
		StartedAt:     task.StartedAt,
		CompletedAt:   task.CompletedAt,
		Result:        task.Result,
		Error:         task.Error,
		RetryCount:    task.RetryCount,
		MaxRetries:    task.MaxRetries,
		CorrelationID: task.Correlation,
	}
}
