// Package store defines the persistence contracts for the task engine: the
// task record store, the ranked pending queue, the in-flight processing set,
// and the TTL-bound result store. Implementations live under
// internal/platform.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/taskwell/taskwell/internal/domain"
)

// TaskStore persists task records keyed by id.
type TaskStore interface {
	// SaveTask inserts a new task record.
	SaveTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task record by id. Returns ErrTaskNotFound if no
	// record exists, or an error wrapping ErrCorruptRecord if the stored
	// data does not decode into a valid task.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateTask writes the full task record back. Returns ErrTaskNotFound
	// if the record no longer exists.
	UpdateTask(ctx context.Context, task *domain.Task) error

	// MarkRunningIfPending atomically claims a popped record: it transitions
	// to running and stamps started_at only if the record is still pending.
	// A false return means a cancel or expiry won the race after the pop.
	MarkRunningIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// MarkCancelledIfPending atomically transitions the record to cancelled
	// only if it is still pending. Reports whether the transition happened.
	MarkCancelledIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// MarkExpiredIfPending atomically transitions the record to expired only
	// if it is still pending. Reports whether the transition happened.
	MarkExpiredIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// ListTasksByStatus returns all records currently in the given status.
	ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)

	// DeleteTerminalBefore removes terminal records whose completion time is
	// older than the cutoff, returning how many were removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	// CountTasks returns the number of task records.
	CountTasks(ctx context.Context) (int, error)
}

// Submitter performs the submission write, persisting the task record and
// its queue entry as one durable operation. Backends that can make the pair
// atomic (a transaction) should; the engine otherwise falls back to a record
// write followed by an enqueue.
type Submitter interface {
	SubmitTask(ctx context.Context, task *domain.Task) error
}

// QueueEntry describes one pending id in the ranked queue, for observability.
// Entries listings are ordered the same way the queue dequeues.
type QueueEntry struct {
	TaskID     uuid.UUID
	Priority   domain.TaskPriority
	EligibleAt time.Time
	EnqueuedAt time.Time
}

// TaskQueue is the ranked pending-id queue. Ordering is priority descending,
// then eligibility time ascending, then enqueue time ascending. An id
// becomes eligible once its EligibleAt has passed; retried tasks re-enter
// with a future EligibleAt so backoff never starves fresh work.
type TaskQueue interface {
	// Enqueue inserts an id with its rank and eligibility time.
	Enqueue(ctx context.Context, id uuid.UUID, priority domain.TaskPriority, eligibleAt time.Time) error

	// Dequeue atomically removes and returns the best-ranked eligible id,
	// waiting up to wait for one to appear. Returns ErrQueueEmpty if none
	// became eligible in time, or the context error on cancellation.
	// Removal and retrieval are one atomic step: an id is observed by at
	// most one caller.
	Dequeue(ctx context.Context, wait time.Duration) (uuid.UUID, error)

	// Remove deletes an id from the queue, reporting whether it was present.
	Remove(ctx context.Context, id uuid.UUID) (bool, error)

	// Depth returns the number of queued ids.
	Depth(ctx context.Context) (int, error)

	// Entries returns all queued ids in dequeue order.
	Entries(ctx context.Context) ([]QueueEntry, error)
}

// ProcessingSet tracks ids currently owned by a worker. It is an
// observability hint, not the ownership authority; the atomic Dequeue is.
type ProcessingSet interface {
	Add(ctx context.Context, id uuid.UUID) error
	Remove(ctx context.Context, id uuid.UUID) error
	Members(ctx context.Context) ([]uuid.UUID, error)
	Size(ctx context.Context) (int, error)
}

// ResultStore holds terminal outcomes with their own expiry, decoupled from
// the task record lifetime.
type ResultStore interface {
	// SaveResult stores a terminal outcome, replacing any previous one.
	SaveResult(ctx context.Context, result *domain.TaskResult) error

	// GetResult retrieves the outcome for a task id. Returns
	// ErrResultNotFound if absent or already purged.
	GetResult(ctx context.Context, id uuid.UUID) (*domain.TaskResult, error)

	// DeleteExpired purges results whose expiry has passed, returning how
	// many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
