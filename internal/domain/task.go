package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusExpired   TaskStatus = "expired"
)

// ParseTaskStatus converts a stored string into a TaskStatus.
// Unknown values are reported as ErrInvalidTaskStatus so schema drift
// surfaces as an error instead of a silently invalid record.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !isValidTaskStatus(status) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskStatus, s)
	}
	return status, nil
}

// IsTerminal reports whether the status permits no further automatic
// transition. A stored "failed" record is always terminal: retryable
// failures are written back as "pending", never as "failed".
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusExpired:
		return true
	default:
		return false
	}
}

func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled, TaskStatusExpired:
		return true
	default:
		return false
	}
}

// TaskPriority orders tasks in the queue. Higher values are dequeued first.
type TaskPriority int

// Possible task priority values, lowest to highest.
const (
	TaskPriorityLow      TaskPriority = 1
	TaskPriorityNormal   TaskPriority = 2
	TaskPriorityHigh     TaskPriority = 3
	TaskPriorityCritical TaskPriority = 4
)

// String returns the lowercase name used in APIs and storage.
func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityLow:
		return "low"
	case TaskPriorityNormal:
		return "normal"
	case TaskPriorityHigh:
		return "high"
	case TaskPriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParseTaskPriority converts a priority name into a TaskPriority.
func ParseTaskPriority(s string) (TaskPriority, error) {
	switch s {
	case "low":
		return TaskPriorityLow, nil
	case "normal":
		return TaskPriorityNormal, nil
	case "high":
		return TaskPriorityHigh, nil
	case "critical":
		return TaskPriorityCritical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTaskPriority, s)
	}
}

// TaskPriorityFromRank converts a stored numeric rank into a TaskPriority.
func TaskPriorityFromRank(rank int) (TaskPriority, error) {
	p := TaskPriority(rank)
	if !isValidTaskPriority(p) {
		return 0, fmt.Errorf("%w: rank %d", ErrInvalidTaskPriority, rank)
	}
	return p, nil
}

func isValidTaskPriority(p TaskPriority) bool {
	return p >= TaskPriorityLow && p <= TaskPriorityCritical
}

// Task is the unit of work processed by the engine. The id is assigned at
// submission and never changes; retries reuse the record and increment
// RetryCount. Result and Error are populated only in terminal states.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      TaskStatus      `json:"status"`
	Priority    TaskPriority    `json:"priority"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Timeout     time.Duration   `json:"-"`
	Correlation string          `json:"correlation,omitempty"`
}

// NewTask creates a pending Task ready for submission. It generates the id,
// stamps CreatedAt in UTC, and validates the result.
func NewTask(
	taskType string,
	payload json.RawMessage,
	priority TaskPriority,
	timeout time.Duration,
	maxRetries int,
	correlation string,
) (*Task, error) {
	task := &Task{
		ID:          uuid.New(),
		Type:        taskType,
		Payload:     payload,
		Status:      TaskStatusPending,
		Priority:    priority,
		CreatedAt:   time.Now().UTC(),
		RetryCount:  0,
		MaxRetries:  maxRetries,
		Timeout:     timeout,
		Correlation: correlation,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks that the Task holds consistent data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTaskIDEmpty
	}

	if t.Type == "" {
		return ErrTaskTypeEmpty
	}

	if !isValidTaskStatus(t.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}

	if !isValidTaskPriority(t.Priority) {
		return fmt.Errorf("%w: rank %d", ErrInvalidTaskPriority, int(t.Priority))
	}

	if t.Timeout <= 0 {
		return ErrInvalidTaskTimeout
	}

	if t.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	if t.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidTaskState)
	}

	return nil
}

// Age returns how long the task has existed at the given instant.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// ExpiredWhilePending reports whether a still-pending task has outlived its
// timeout without ever being dequeued. Only pending tasks expire; the engine
// never expires a record a worker owns.
func (t *Task) ExpiredWhilePending(now time.Time) bool {
	return t.Status == TaskStatusPending && t.Age(now) > t.Timeout
}

// MarkRunning transitions Pending -> Running and stamps StartedAt.
func (t *Task) MarkRunning(now time.Time) error {
	if t.Status != TaskStatusPending {
		return t.transitionError(TaskStatusRunning)
	}
	started := now.UTC()
	t.Status = TaskStatusRunning
	t.StartedAt = &started
	return nil
}

// MarkCompleted transitions Running -> Completed with the handler's result.
func (t *Task) MarkCompleted(result json.RawMessage, now time.Time) error {
	if t.Status != TaskStatusRunning {
		return t.transitionError(TaskStatusCompleted)
	}
	completed := now.UTC()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &completed
	t.Result = result
	t.Error = ""
	return nil
}

// MarkFailed transitions Running -> Failed (terminal) with the error detail.
func (t *Task) MarkFailed(errMsg string, now time.Time) error {
	if t.Status != TaskStatusRunning {
		return t.transitionError(TaskStatusFailed)
	}
	completed := now.UTC()
	t.Status = TaskStatusFailed
	t.CompletedAt = &completed
	t.Error = errMsg
	return nil
}

// PrepareRetry relabels a failed attempt back to Pending and consumes one
// unit of the retry budget. The caller decides eligibility timing.
func (t *Task) PrepareRetry(errMsg string, now time.Time) error {
	if t.Status != TaskStatusRunning {
		return t.transitionError(TaskStatusPending)
	}
	if t.RetryCount >= t.MaxRetries {
		return fmt.Errorf("%w: retry budget exhausted", ErrInvalidTaskState)
	}
	t.Status = TaskStatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
	t.Error = errMsg
	t.RetryCount++
	return nil
}

// MarkCancelled transitions Pending -> Cancelled.
func (t *Task) MarkCancelled(now time.Time) error {
	if t.Status != TaskStatusPending {
		return t.transitionError(TaskStatusCancelled)
	}
	completed := now.UTC()
	t.Status = TaskStatusCancelled
	t.CompletedAt = &completed
	return nil
}

// MarkExpired transitions Pending -> Expired. Expired tasks were never
// dequeued, so StartedAt stays unset.
func (t *Task) MarkExpired(now time.Time) error {
	if t.Status != TaskStatusPending {
		return t.transitionError(TaskStatusExpired)
	}
	completed := now.UTC()
	t.Status = TaskStatusExpired
	t.CompletedAt = &completed
	t.Error = "task expired before execution"
	return nil
}

func (t *Task) transitionError(to TaskStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
}
