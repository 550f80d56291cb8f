package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskwell/taskwell/internal/domain"
)

// LifecycleEvent describes a single task state change.
type LifecycleEvent struct {
	// TaskID identifies the task the event is about.
	TaskID uuid.UUID `json:"task_id"`

	// TaskType is the registered handler type of the task.
	TaskType string `json:"task_type"`

	// Status is the state the task entered.
	Status domain.TaskStatus `json:"status"`

	// Attempt is the retry count at the time of the event. Zero for the
	// first attempt.
	Attempt int `json:"attempt"`

	// Error carries the failure message for failed and expired tasks.
	Error string `json:"error,omitempty"`

	// At is when the state change happened.
	At time.Time `json:"at"`
}

// NewLifecycleEvent builds an event from the task's current state.
func NewLifecycleEvent(task *domain.Task) LifecycleEvent {
	return LifecycleEvent{
		TaskID:   task.ID,
		TaskType: task.Type,
		Status:   task.Status,
		Attempt:  task.RetryCount,
		Error:    task.Error,
		At:       time.Now().UTC(),
	}
}

// Handler defines an interface for components that consume lifecycle
// events. Handlers must be fast; they run on the worker's goroutine.
type Handler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event LifecycleEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event LifecycleEvent) error

// HandleEvent calls f(ctx, event).
func (f HandlerFunc) HandleEvent(ctx context.Context, event LifecycleEvent) error {
	return f(ctx, event)
}

// Emitter defines an interface for components that publish lifecycle
// events. This allows the engine to announce state changes without direct
// knowledge of the listeners.
type Emitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event LifecycleEvent) error
}
