package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/store"
)

// dequeuePollInterval is how often Dequeue re-polls while waiting for an
// eligible id inside its wait window.
const dequeuePollInterval = 100 * time.Millisecond

// TaskQueue implements store.TaskQueue over a PostgreSQL table ordered by
// (priority DESC, eligible_at ASC, enqueued_at ASC). The pop is one
// DELETE ... SELECT FOR UPDATE SKIP LOCKED statement, so removal and
// retrieval are a single atomic step and concurrent workers never observe
// the same id.
type TaskQueue struct {
	db store.DBTX
}

// NewTaskQueue creates a TaskQueue bound to the given connection or
// transaction.
func NewTaskQueue(db store.DBTX) *TaskQueue {
	return &TaskQueue{db: db}
}

// WithTx returns a TaskQueue that runs against the provided transaction.
func (q *TaskQueue) WithTx(tx *sql.Tx) *TaskQueue {
	return &TaskQueue{db: tx}
}

// Enqueue inserts an id with its rank and eligibility time.
func (q *TaskQueue) Enqueue(ctx context.Context, id uuid.UUID, priority domain.TaskPriority, eligibleAt time.Time) error {
	query := `
		INSERT INTO task_queue (task_id, priority, eligible_at, enqueued_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id) DO UPDATE
		SET priority = EXCLUDED.priority, eligible_at = EXCLUDED.eligible_at
	`

	_, err := q.db.ExecContext(ctx, query, id, int(priority), eligibleAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", MapError(err))
	}

	return nil
}

// Dequeue pops the best-ranked eligible id, polling until the wait window
// elapses. Returns store.ErrQueueEmpty when nothing became eligible.
func (q *TaskQueue) Dequeue(ctx context.Context, wait time.Duration) (uuid.UUID, error) {
	deadline := time.Now().Add(wait)

	for {
		id, err := q.pop(ctx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrQueueEmpty) {
			return uuid.Nil, err
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

// pop atomically claims and removes one eligible id. SKIP LOCKED keeps
// concurrent poppers from blocking on each other's candidate row.
func (q *TaskQueue) pop(ctx context.Context) (uuid.UUID, error) {
	query := `
		DELETE FROM task_queue
		WHERE task_id = (
			SELECT task_id
			FROM task_queue
			WHERE eligible_at <= $1
			ORDER BY priority DESC, eligible_at ASC, enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING task_id
	`

	var id uuid.UUID
	err := q.db.QueryRowContext(ctx, query, time.Now().UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, store.ErrQueueEmpty
		}
		return uuid.Nil, fmt.Errorf("failed to dequeue task: %w", MapError(err))
	}

	return id, nil
}

// Remove deletes an id from the queue, reporting whether it was present.
func (q *TaskQueue) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := q.db.ExecContext(ctx, `DELETE FROM task_queue WHERE task_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove queued task: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Depth returns the number of queued ids.
func (q *TaskQueue) Depth(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued tasks: %w", MapError(err))
	}
	return count, nil
}

// Entries returns all queued ids in dequeue order.
func (q *TaskQueue) Entries(ctx context.Context) ([]store.QueueEntry, error) {
	query := `
		SELECT task_id, priority, eligible_at, enqueued_at
		FROM task_queue
		ORDER BY priority DESC, eligible_at ASC, enqueued_at ASC
	`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var entries []store.QueueEntry
	for rows.Next() {
		var (
			entry        store.QueueEntry
			priorityRank int
		)
		if err := rows.Scan(&entry.TaskID, &priorityRank, &entry.EligibleAt, &entry.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", MapError(err))
		}

		priority, err := domain.TaskPriorityFromRank(priorityRank)
		if err != nil {
			return nil, fmt.Errorf("%w: queue entry %s: %w", store.ErrCorruptRecord, entry.TaskID, err)
		}
		entry.Priority = priority
		entry.EligibleAt = entry.EligibleAt.UTC()
		entry.EnqueuedAt = entry.EnqueuedAt.UTC()

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", MapError(err))
	}

	return entries, nil
}
