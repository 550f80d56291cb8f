package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwell/taskwell/internal/domain"
)

func newTestEvent(t *testing.T) LifecycleEvent {
	t.Helper()
	task, err := domain.NewTask("echo", nil, domain.TaskPriorityNormal, time.Minute, 3, "")
	require.NoError(t, err)
	return NewLifecycleEvent(task)
}

func TestNewLifecycleEvent(t *testing.T) {
	t.Parallel()

	task, err := domain.NewTask("send_email", nil, domain.TaskPriorityHigh, time.Minute, 3, "")
	require.NoError(t, err)

	event := NewLifecycleEvent(task)

	assert.Equal(t, task.ID, event.TaskID)
	assert.Equal(t, "send_email", event.TaskType)
	assert.Equal(t, domain.TaskStatusPending, event.Status)
	assert.Equal(t, 0, event.Attempt)
	assert.False(t, event.At.IsZero())
}

func TestEmitEventDispatchesToAllHandlers(t *testing.T) {
	t.Parallel()
	emitter := NewInMemoryEmitter(nil)

	var first, second int
	emitter.RegisterHandler(HandlerFunc(func(ctx context.Context, event LifecycleEvent) error {
		first++
		return nil
	}))
	emitter.RegisterHandler(HandlerFunc(func(ctx context.Context, event LifecycleEvent) error {
		second++
		return nil
	}))

	require.NoError(t, emitter.EmitEvent(context.Background(), newTestEvent(t)))
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestEmitEventNoHandlers(t *testing.T) {
	t.Parallel()
	emitter := NewInMemoryEmitter(nil)

	assert.NoError(t, emitter.EmitEvent(context.Background(), newTestEvent(t)))
}

func TestEmitEventContinuesPastFailingHandler(t *testing.T) {
	t.Parallel()
	emitter := NewInMemoryEmitter(nil)

	failure := errors.New("handler exploded")
	var reached bool
	emitter.RegisterHandler(HandlerFunc(func(ctx context.Context, event LifecycleEvent) error {
		return failure
	}))
	emitter.RegisterHandler(HandlerFunc(func(ctx context.Context, event LifecycleEvent) error {
		reached = true
		return nil
	}))

	err := emitter.EmitEvent(context.Background(), newTestEvent(t))
	assert.ErrorIs(t, err, failure)
	assert.True(t, reached, "later handlers still run after a failure")
}
