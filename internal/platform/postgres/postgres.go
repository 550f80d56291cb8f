// Package postgres implements the engine's store contracts over PostgreSQL
// using database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/store"
)

// Backend bundles the four store implementations over one connection pool.
type Backend struct {
	db         *sql.DB
	Tasks      *TaskStore
	Queue      *TaskQueue
	Processing *ProcessingSet
	Results    *ResultStore
}

// NewBackend creates the store set over the given database handle.
func NewBackend(db *sql.DB) *Backend {
	return &Backend{
		db:         db,
		Tasks:      NewTaskStore(db),
		Queue:      NewTaskQueue(db),
		Processing: NewProcessingSet(db),
		Results:    NewResultStore(db),
	}
}

// SubmitTask writes the task record and its queue entry in one transaction,
// so a submitted task is either fully visible (record + queue) or absent.
func (b *Backend) SubmitTask(ctx context.Context, task *domain.Task) error {
	return store.RunInTransaction(ctx, b.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := b.Tasks.WithTx(tx).SaveTask(ctx, task); err != nil {
			return err
		}
		return b.Queue.WithTx(tx).Enqueue(ctx, task.ID, task.Priority, time.Now().UTC())
	})
}
