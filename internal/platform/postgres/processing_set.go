package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskwell/taskwell/internal/store"
)

// ProcessingSet implements store.ProcessingSet over a PostgreSQL table of
// in-flight ids. It is observability state only; ownership authority is the
// queue's atomic pop.
type ProcessingSet struct {
	db store.DBTX
}

// NewProcessingSet creates a ProcessingSet bound to the given connection.
func NewProcessingSet(db store.DBTX) *ProcessingSet {
	return &ProcessingSet{db: db}
}

// Add records an id as in-flight.
func (p *ProcessingSet) Add(ctx context.Context, id uuid.UUID) error {
	query := `
		INSERT INTO task_processing (task_id, claimed_at)
		VALUES ($1, $2)
		ON CONFLICT (task_id) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add processing entry: %w", MapError(err))
	}
	return nil
}

// Remove clears an id's in-flight marker. Removing an absent id is a no-op.
func (p *ProcessingSet) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM task_processing WHERE task_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove processing entry: %w", MapError(err))
	}
	return nil
}

// Members returns all in-flight ids.
func (p *ProcessingSet) Members(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT task_id FROM task_processing ORDER BY claimed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing entries: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan processing entry: %w", MapError(err))
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processing entries: %w", MapError(err))
	}

	return ids, nil
}

// Size returns the number of in-flight ids.
func (p *ProcessingSet) Size(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_processing`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count processing entries: %w", MapError(err))
	}
	return count, nil
}
