package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewTask(t *testing.T) {
	t.Parallel() // Enable parallel execution
	payload := json.RawMessage(`{"to":"user@example.com"}`)

	task, err := NewTask("send_email", payload, TaskPriorityHigh, time.Minute, 3, "req-123")

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if task.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if task.Type != "send_email" {
		t.Errorf("Expected type send_email, got %s", task.Type)
	}

	if task.Status != TaskStatusPending {
		t.Errorf("Expected status %s, got %s", TaskStatusPending, task.Status)
	}

	if task.Priority != TaskPriorityHigh {
		t.Errorf("Expected priority %s, got %s", TaskPriorityHigh, task.Priority)
	}

	if task.CreatedAt.IsZero() {
		t.Error("Expected non-zero CreatedAt time")
	}

	if task.StartedAt != nil || task.CompletedAt != nil {
		t.Error("Expected StartedAt and CompletedAt to be unset")
	}

	if task.RetryCount != 0 {
		t.Errorf("Expected retry count 0, got %d", task.RetryCount)
	}

	if task.Correlation != "req-123" {
		t.Errorf("Expected correlation req-123, got %s", task.Correlation)
	}

	// Test invalid type
	_, err = NewTask("", payload, TaskPriorityNormal, time.Minute, 3, "")
	if !errors.Is(err, ErrTaskTypeEmpty) {
		t.Errorf("Expected error %v, got %v", ErrTaskTypeEmpty, err)
	}

	// Test invalid timeout
	_, err = NewTask("send_email", payload, TaskPriorityNormal, 0, 3, "")
	if !errors.Is(err, ErrInvalidTaskTimeout) {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskTimeout, err)
	}

	// Test invalid retry budget
	_, err = NewTask("send_email", payload, TaskPriorityNormal, time.Minute, -1, "")
	if !errors.Is(err, ErrInvalidMaxRetries) {
		t.Errorf("Expected error %v, got %v", ErrInvalidMaxRetries, err)
	}

	// Test invalid priority
	_, err = NewTask("send_email", payload, TaskPriority(9), time.Minute, 3, "")
	if !errors.Is(err, ErrInvalidTaskPriority) {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskPriority, err)
	}
}

func TestParseTaskStatus(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"pending", "running", "completed", "failed", "cancelled", "expired"} {
		status, err := ParseTaskStatus(valid)
		if err != nil {
			t.Errorf("Expected %q to parse, got error %v", valid, err)
		}
		if string(status) != valid {
			t.Errorf("Expected status %q, got %q", valid, status)
		}
	}

	if _, err := ParseTaskStatus("queued"); !errors.Is(err, ErrInvalidTaskStatus) {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskStatus, err)
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusExpired}
	for _, status := range terminal {
		if !status.IsTerminal() {
			t.Errorf("Expected %s to be terminal", status)
		}
	}

	for _, status := range []TaskStatus{TaskStatusPending, TaskStatusRunning} {
		if status.IsTerminal() {
			t.Errorf("Expected %s not to be terminal", status)
		}
	}
}

func TestTaskPriorityFromRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rank     int
		expected TaskPriority
	}{
		{1, TaskPriorityLow},
		{2, TaskPriorityNormal},
		{3, TaskPriorityHigh},
		{4, TaskPriorityCritical},
	}

	for _, tc := range tests {
		priority, err := TaskPriorityFromRank(tc.rank)
		if err != nil {
			t.Errorf("Expected rank %d to parse, got error %v", tc.rank, err)
		}
		if priority != tc.expected {
			t.Errorf("Expected rank %d to map to %s, got %s", tc.rank, tc.expected, priority)
		}
	}

	if _, err := TaskPriorityFromRank(0); !errors.Is(err, ErrInvalidTaskPriority) {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskPriority, err)
	}
	if _, err := TaskPriorityFromRank(5); !errors.Is(err, ErrInvalidTaskPriority) {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskPriority, err)
	}
}

func TestTaskLifecycleTransitions(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	task, err := NewTask("resize_image", nil, TaskPriorityNormal, time.Minute, 2, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// Pending -> Running
	if err := task.MarkRunning(now); err != nil {
		t.Fatalf("Expected MarkRunning to succeed, got %v", err)
	}
	if task.Status != TaskStatusRunning {
		t.Errorf("Expected status running, got %s", task.Status)
	}
	if task.StartedAt == nil {
		t.Error("Expected StartedAt to be set")
	}

	// Running -> Pending via retry, consuming budget
	if err := task.PrepareRetry("connection reset", now); err != nil {
		t.Fatalf("Expected PrepareRetry to succeed, got %v", err)
	}
	if task.Status != TaskStatusPending {
		t.Errorf("Expected status pending, got %s", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", task.RetryCount)
	}
	if task.StartedAt != nil {
		t.Error("Expected StartedAt to be cleared for the next attempt")
	}

	// Pending -> Running -> Completed
	if err := task.MarkRunning(now); err != nil {
		t.Fatalf("Expected MarkRunning to succeed, got %v", err)
	}
	result := json.RawMessage(`{"ok":true}`)
	if err := task.MarkCompleted(result, now); err != nil {
		t.Fatalf("Expected MarkCompleted to succeed, got %v", err)
	}
	if task.Status != TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}

	// Terminal states reject further transitions
	if err := task.MarkRunning(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected %v, got %v", ErrInvalidTransition, err)
	}
	if err := task.MarkCancelled(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected %v, got %v", ErrInvalidTransition, err)
	}
}

func TestPrepareRetryExhaustedBudget(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	task, err := NewTask("send_email", nil, TaskPriorityNormal, time.Minute, 0, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := task.MarkRunning(now); err != nil {
		t.Fatalf("Expected MarkRunning to succeed, got %v", err)
	}

	if err := task.PrepareRetry("boom", now); !errors.Is(err, ErrInvalidTaskState) {
		t.Errorf("Expected %v, got %v", ErrInvalidTaskState, err)
	}
}

func TestMarkCancelledOnlyWhilePending(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	task, err := NewTask("send_email", nil, TaskPriorityNormal, time.Minute, 3, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := task.MarkCancelled(now); err != nil {
		t.Fatalf("Expected MarkCancelled to succeed, got %v", err)
	}
	if task.Status != TaskStatusCancelled {
		t.Errorf("Expected status cancelled, got %s", task.Status)
	}
	if task.StartedAt != nil {
		t.Error("Expected StartedAt to stay unset for a cancelled task")
	}

	running, err := NewTask("send_email", nil, TaskPriorityNormal, time.Minute, 3, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := running.MarkRunning(now); err != nil {
		t.Fatalf("Expected MarkRunning to succeed, got %v", err)
	}
	if err := running.MarkCancelled(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected %v, got %v", ErrInvalidTransition, err)
	}
}

func TestMarkExpired(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	task, err := NewTask("send_email", nil, TaskPriorityNormal, time.Minute, 3, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := task.MarkExpired(now); err != nil {
		t.Fatalf("Expected MarkExpired to succeed, got %v", err)
	}
	if task.Status != TaskStatusExpired {
		t.Errorf("Expected status expired, got %s", task.Status)
	}
	if task.StartedAt != nil {
		t.Error("Expected StartedAt to stay unset for an expired task")
	}
	if task.Error == "" {
		t.Error("Expected expiry to record an error message")
	}
}

func TestExpiredWhilePending(t *testing.T) {
	t.Parallel()

	task, err := NewTask("send_email", nil, TaskPriorityNormal, time.Minute, 3, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if task.ExpiredWhilePending(task.CreatedAt.Add(30 * time.Second)) {
		t.Error("Expected task within timeout not to be expired")
	}
	if !task.ExpiredWhilePending(task.CreatedAt.Add(2 * time.Minute)) {
		t.Error("Expected task past timeout to be expired")
	}

	// Only pending tasks expire
	if err := task.MarkRunning(task.CreatedAt); err != nil {
		t.Fatalf("Expected MarkRunning to succeed, got %v", err)
	}
	if task.ExpiredWhilePending(task.CreatedAt.Add(2 * time.Minute)) {
		t.Error("Expected running task never to expire")
	}
}
