package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/store"
)

func newTestTask(t *testing.T, priority domain.TaskPriority) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("echo", nil, priority, time.Minute, 3, "")
	require.NoError(t, err)
	return task
}

func TestSaveAndGetTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	task := newTestTask(t, domain.TaskPriorityNormal)

	require.NoError(t, backend.SaveTask(ctx, task))

	got, err := backend.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.TaskStatusPending, got.Status)

	// Returned record is a copy; mutating it must not leak into the store.
	got.Status = domain.TaskStatusRunning
	again, err := backend.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, again.Status)
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()
	backend := NewBackend()

	_, err := backend.GetTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestSaveTaskDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	task := newTestTask(t, domain.TaskPriorityNormal)

	require.NoError(t, backend.SaveTask(ctx, task))
	assert.ErrorIs(t, backend.SaveTask(ctx, task), store.ErrDuplicate)
}

func TestDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	now := time.Now().UTC()

	low := uuid.New()
	normalFirst := uuid.New()
	normalSecond := uuid.New()
	critical := uuid.New()

	require.NoError(t, backend.Enqueue(ctx, low, domain.TaskPriorityLow, now))
	require.NoError(t, backend.Enqueue(ctx, normalFirst, domain.TaskPriorityNormal, now))
	require.NoError(t, backend.Enqueue(ctx, normalSecond, domain.TaskPriorityNormal, now))
	require.NoError(t, backend.Enqueue(ctx, critical, domain.TaskPriorityCritical, now))

	expected := []uuid.UUID{critical, normalFirst, normalSecond, low}
	for i, want := range expected {
		got, err := backend.Dequeue(ctx, time.Second)
		require.NoError(t, err, "dequeue %d", i)
		assert.Equal(t, want, got, "dequeue %d", i)
	}

	_, err := backend.Dequeue(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, store.ErrQueueEmpty)
}

func TestDequeueHonorsEligibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	now := time.Now().UTC()

	delayed := uuid.New()
	ready := uuid.New()

	// The delayed entry outranks on priority but is not yet eligible.
	require.NoError(t, backend.Enqueue(ctx, delayed, domain.TaskPriorityCritical, now.Add(time.Hour)))
	require.NoError(t, backend.Enqueue(ctx, ready, domain.TaskPriorityLow, now))

	got, err := backend.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ready, got)

	_, err = backend.Dequeue(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, store.ErrQueueEmpty)
}

func TestDequeueWaitsForEligibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()

	id := uuid.New()
	require.NoError(t, backend.Enqueue(ctx, id, domain.TaskPriorityNormal, time.Now().Add(50*time.Millisecond)))

	got, err := backend.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	backend := NewBackend()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := backend.Dequeue(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnqueueReplacesExistingEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	now := time.Now().UTC()

	id := uuid.New()
	require.NoError(t, backend.Enqueue(ctx, id, domain.TaskPriorityLow, now))
	require.NoError(t, backend.Enqueue(ctx, id, domain.TaskPriorityCritical, now))

	depth, err := backend.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	entries, err := backend.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TaskPriorityCritical, entries[0].Priority)
}

func TestQueueRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()

	id := uuid.New()
	require.NoError(t, backend.Enqueue(ctx, id, domain.TaskPriorityNormal, time.Now()))

	removed, err := backend.Remove(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = backend.Remove(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMarkCancelledIfPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	now := time.Now().UTC()
	task := newTestTask(t, domain.TaskPriorityNormal)
	require.NoError(t, backend.SaveTask(ctx, task))

	marked, err := backend.MarkCancelledIfPending(ctx, task.ID, now)
	require.NoError(t, err)
	assert.True(t, marked)

	got, err := backend.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, got.Status)

	// Already terminal: the conditional mark reports false, not an error.
	marked, err = backend.MarkCancelledIfPending(ctx, task.ID, now)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestMarkRunningIfPendingClaimsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	now := time.Now().UTC()
	task := newTestTask(t, domain.TaskPriorityNormal)
	require.NoError(t, backend.SaveTask(ctx, task))

	claimed, err := backend.MarkRunningIfPending(ctx, task.ID, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = backend.MarkRunningIfPending(ctx, task.ID, now)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestProcessingSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	set := NewBackend().ProcessingSet()

	first := uuid.New()
	second := uuid.New()

	require.NoError(t, set.Add(ctx, first))
	require.NoError(t, set.Add(ctx, second))

	size, err := set.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	members, err := set.Members(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, set.Remove(ctx, first))
	size, err = set.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestResultStoreRoundTripAndExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	now := time.Now().UTC()

	kept := domain.NewTaskResult(uuid.New(), []byte(`{"ok":true}`), now, time.Hour)
	expired := domain.NewTaskError(uuid.New(), "boom", now.Add(-2*time.Hour), time.Hour)

	require.NoError(t, backend.SaveResult(ctx, kept))
	require.NoError(t, backend.SaveResult(ctx, expired))

	got, err := backend.GetResult(ctx, kept.TaskID)
	require.NoError(t, err)
	assert.Equal(t, kept.TaskID, got.TaskID)

	purged, err := backend.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = backend.GetResult(ctx, expired.TaskID)
	assert.ErrorIs(t, err, store.ErrResultNotFound)
}

func TestDeleteTerminalBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewBackend()
	now := time.Now().UTC()

	old := newTestTask(t, domain.TaskPriorityNormal)
	require.NoError(t, old.MarkRunning(now.Add(-3*time.Hour)))
	require.NoError(t, old.MarkCompleted(nil, now.Add(-2*time.Hour)))
	require.NoError(t, backend.SaveTask(ctx, old))

	fresh := newTestTask(t, domain.TaskPriorityNormal)
	require.NoError(t, backend.SaveTask(ctx, fresh))

	deleted, err := backend.DeleteTerminalBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = backend.GetTask(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	_, err = backend.GetTask(ctx, fresh.ID)
	assert.NoError(t, err)
}
