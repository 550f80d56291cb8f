// Package memory implements the engine's store contracts in process memory.
// It mirrors the postgres ordering and atomicity semantics under a single
// mutex and backs unit tests and embedded single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/store"
)

// dequeuePollInterval matches the postgres backend's idle re-poll cadence.
const dequeuePollInterval = 10 * time.Millisecond

type queueEntry struct {
	taskID     uuid.UUID
	priority   domain.TaskPriority
	eligibleAt time.Time
	enqueuedAt time.Time
	seq        uint64
}

// Backend holds all four collections under one lock.
type Backend struct {
	mu         sync.Mutex
	tasks      map[uuid.UUID]*domain.Task
	queue      []queueEntry
	processing map[uuid.UUID]time.Time
	results    map[uuid.UUID]*domain.TaskResult
	seq        uint64
}

// NewBackend creates an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		tasks:      make(map[uuid.UUID]*domain.Task),
		processing: make(map[uuid.UUID]time.Time),
		results:    make(map[uuid.UUID]*domain.TaskResult),
	}
}

// --- store.TaskStore ---

// SaveTask inserts a new task record.
func (b *Backend) SaveTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.tasks[task.ID]; exists {
		return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
	}

	b.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetTask retrieves a copy of the task record so callers never alias
// stored state.
func (b *Backend) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}

	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: task %s: %w", store.ErrCorruptRecord, id, err)
	}

	return cloneTask(task), nil
}

// UpdateTask writes the full task record back.
func (b *Backend) UpdateTask(ctx context.Context, task *domain.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tasks[task.ID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, task.ID)
	}

	b.tasks[task.ID] = cloneTask(task)
	return nil
}

// MarkRunningIfPending claims a popped record for execution if it is still
// pending.
func (b *Backend) MarkRunningIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return b.markIfPending(id, func(t *domain.Task) error { return t.MarkRunning(now) })
}

// MarkCancelledIfPending transitions a still-pending record to cancelled.
func (b *Backend) MarkCancelledIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return b.markIfPending(id, func(t *domain.Task) error { return t.MarkCancelled(now) })
}

// MarkExpiredIfPending transitions a still-pending record to expired.
func (b *Backend) MarkExpiredIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return b.markIfPending(id, func(t *domain.Task) error { return t.MarkExpired(now) })
}

func (b *Backend) markIfPending(id uuid.UUID, mark func(*domain.Task) error) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok || task.Status != domain.TaskStatusPending {
		return false, nil
	}

	if err := mark(task); err != nil {
		return false, err
	}
	return true, nil
}

// ListTasksByStatus returns copies of all records in the given status,
// oldest first.
func (b *Backend) ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var tasks []*domain.Task
	for _, task := range b.tasks {
		if task.Status == status {
			tasks = append(tasks, cloneTask(task))
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

// DeleteTerminalBefore removes terminal records completed before the cutoff.
func (b *Backend) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, task := range b.tasks {
		if task.Status.IsTerminal() && task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(b.tasks, id)
			removed++
		}
	}

	return removed, nil
}

// CountTasks returns the number of task records.
func (b *Backend) CountTasks(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks), nil
}

// --- store.TaskQueue ---

// Enqueue inserts an id with its rank and eligibility time.
func (b *Backend) Enqueue(ctx context.Context, id uuid.UUID, priority domain.TaskPriority, eligibleAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Re-enqueueing replaces the existing entry, as the upsert does in
	// postgres.
	for i := range b.queue {
		if b.queue[i].taskID == id {
			b.queue[i].priority = priority
			b.queue[i].eligibleAt = eligibleAt.UTC()
			return nil
		}
	}

	b.seq++
	b.queue = append(b.queue, queueEntry{
		taskID:     id,
		priority:   priority,
		eligibleAt: eligibleAt.UTC(),
		enqueuedAt: time.Now().UTC(),
		seq:        b.seq,
	})
	return nil
}

// Dequeue pops the best-ranked eligible id, polling until the wait window
// elapses.
func (b *Backend) Dequeue(ctx context.Context, wait time.Duration) (uuid.UUID, error) {
	deadline := time.Now().Add(wait)

	for {
		if id, ok := b.popEligible(); ok {
			return id, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return uuid.Nil, store.ErrQueueEmpty
		}

		interval := dequeuePollInterval
		if remaining < interval {
			interval = remaining
		}

		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// popEligible removes and returns the best-ranked eligible entry under the
// lock, so an id is observed by at most one caller.
func (b *Backend) popEligible() (uuid.UUID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	best := -1
	for i := range b.queue {
		if b.queue[i].eligibleAt.After(now) {
			continue
		}
		if best < 0 || rankLess(b.queue[i], b.queue[best]) {
			best = i
		}
	}

	if best < 0 {
		return uuid.Nil, false
	}

	id := b.queue[best].taskID
	b.queue = append(b.queue[:best], b.queue[best+1:]...)
	return id, true
}

// rankLess reports whether a dequeues before b: priority descending, then
// eligibility time ascending, then arrival order.
func rankLess(a, b queueEntry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if !a.eligibleAt.Equal(b.eligibleAt) {
		return a.eligibleAt.Before(b.eligibleAt)
	}
	return a.seq < b.seq
}

// Remove deletes an id from the queue, reporting whether it was present.
func (b *Backend) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.queue {
		if b.queue[i].taskID == id {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Depth returns the number of queued ids.
func (b *Backend) Depth(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue), nil
}

// Entries returns all queued ids in dequeue order.
func (b *Backend) Entries(ctx context.Context) ([]store.QueueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ordered := make([]queueEntry, len(b.queue))
	copy(ordered, b.queue)
	sort.Slice(ordered, func(i, j int) bool { return rankLess(ordered[i], ordered[j]) })

	entries := make([]store.QueueEntry, 0, len(ordered))
	for _, e := range ordered {
		entries = append(entries, store.QueueEntry{
			TaskID:     e.taskID,
			Priority:   e.priority,
			EligibleAt: e.eligibleAt,
			EnqueuedAt: e.enqueuedAt,
		})
	}
	return entries, nil
}

// --- store.ProcessingSet ---

// ProcessingSet returns the in-flight set view of the backend. It is a
// separate view because its Remove signature differs from the queue's.
func (b *Backend) ProcessingSet() store.ProcessingSet {
	return processingView{b: b}
}

type processingView struct {
	b *Backend
}

func (v processingView) Add(ctx context.Context, id uuid.UUID) error {
	v.b.mu.Lock()
	defer v.b.mu.Unlock()
	v.b.processing[id] = time.Now().UTC()
	return nil
}

func (v processingView) Remove(ctx context.Context, id uuid.UUID) error {
	v.b.mu.Lock()
	defer v.b.mu.Unlock()
	delete(v.b.processing, id)
	return nil
}

func (v processingView) Members(ctx context.Context) ([]uuid.UUID, error) {
	v.b.mu.Lock()
	defer v.b.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(v.b.processing))
	for id := range v.b.processing {
		ids = append(ids, id)
	}
	return ids, nil
}

func (v processingView) Size(ctx context.Context) (int, error) {
	v.b.mu.Lock()
	defer v.b.mu.Unlock()
	return len(v.b.processing), nil
}

// --- store.ResultStore ---

// SaveResult stores a terminal outcome, replacing any previous one.
func (b *Backend) SaveResult(ctx context.Context, result *domain.TaskResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cloned := *result
	b.results[result.TaskID] = &cloned
	return nil
}

// GetResult retrieves the outcome for a task id.
func (b *Backend) GetResult(ctx context.Context, id uuid.UUID) (*domain.TaskResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	result, ok := b.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrResultNotFound, id)
	}

	cloned := *result
	return &cloned, nil
}

// DeleteExpired purges results whose expiry has passed.
func (b *Backend) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, result := range b.results {
		if result.Expired(now) {
			delete(b.results, id)
			removed++
		}
	}
	return removed, nil
}

func cloneTask(task *domain.Task) *domain.Task {
	cloned := *task
	if task.StartedAt != nil {
		t := *task.StartedAt
		cloned.StartedAt = &t
	}
	if task.CompletedAt != nil {
		t := *task.CompletedAt
		cloned.CompletedAt = &t
	}
	return &cloned
}
