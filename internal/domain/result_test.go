package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewTaskResult(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	completedAt := time.Now().UTC()
	payload := json.RawMessage(`{"count":42}`)

	result := NewTaskResult(id, payload, completedAt, time.Hour)

	if result.TaskID != id {
		t.Errorf("Expected task id %s, got %s", id, result.TaskID)
	}
	if string(result.Result) != string(payload) {
		t.Errorf("Expected result %s, got %s", payload, result.Result)
	}
	if result.Error != "" {
		t.Errorf("Expected no error message, got %q", result.Error)
	}
	if !result.ExpiresAt.Equal(completedAt.Add(time.Hour)) {
		t.Errorf("Expected expiry %s, got %s", completedAt.Add(time.Hour), result.ExpiresAt)
	}
}

func TestNewTaskError(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	completedAt := time.Now().UTC()

	result := NewTaskError(id, "handler timed out after 1m0s", completedAt, time.Hour)

	if result.Error != "handler timed out after 1m0s" {
		t.Errorf("Expected error message, got %q", result.Error)
	}
	if result.Result != nil {
		t.Errorf("Expected no result payload, got %s", result.Result)
	}
}

func TestTaskResultExpired(t *testing.T) {
	t.Parallel()
	completedAt := time.Now().UTC()
	result := NewTaskResult(uuid.New(), nil, completedAt, time.Hour)

	if result.Expired(completedAt.Add(30 * time.Minute)) {
		t.Error("Expected result within TTL not to be expired")
	}
	if !result.Expired(completedAt.Add(2 * time.Hour)) {
		t.Error("Expected result past TTL to be expired")
	}
}
