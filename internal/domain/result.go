package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskResult is the terminal outcome of a task, stored separately from the
// task record so long-lived histories don't bloat the live record store.
// Exactly one of Result or Error is meaningful: Result for completed tasks,
// Error for terminally failed ones.
type TaskResult struct {
	TaskID      uuid.UUID       `json:"task_id"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// NewTaskResult builds a successful outcome record with the given TTL.
func NewTaskResult(taskID uuid.UUID, result json.RawMessage, completedAt time.Time, ttl time.Duration) *TaskResult {
	return &TaskResult{
		TaskID:      taskID,
		Result:      result,
		CompletedAt: completedAt.UTC(),
		ExpiresAt:   completedAt.UTC().Add(ttl),
	}
}

// NewTaskError builds a failed outcome record with the given TTL.
func NewTaskError(taskID uuid.UUID, errMsg string, completedAt time.Time, ttl time.Duration) *TaskResult {
	return &TaskResult{
		TaskID:      taskID,
		Error:       errMsg,
		CompletedAt: completedAt.UTC(),
		ExpiresAt:   completedAt.UTC().Add(ttl),
	}
}

// Expired reports whether the result has outlived its TTL.
func (r *TaskResult) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
