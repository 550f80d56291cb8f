package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/store"
)

// ResultStore implements store.ResultStore over PostgreSQL with an explicit
// expires_at column swept by the reaper.
type ResultStore struct {
	db store.DBTX
}

// NewResultStore creates a ResultStore bound to the given connection.
func NewResultStore(db store.DBTX) *ResultStore {
	return &ResultStore{db: db}
}

// SaveResult stores a terminal outcome, replacing any previous one.
func (s *ResultStore) SaveResult(ctx context.Context, result *domain.TaskResult) error {
	query := `
		INSERT INTO task_results (task_id, result, error, completed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO UPDATE
		SET result = EXCLUDED.result, error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at, expires_at = EXCLUDED.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		result.TaskID,
		[]byte(result.Result),
		result.Error,
		result.CompletedAt,
		result.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task result: %w", MapError(err))
	}

	return nil
}

// GetResult retrieves the outcome for a task id.
func (s *ResultStore) GetResult(ctx context.Context, id uuid.UUID) (*domain.TaskResult, error) {
	query := `
		SELECT task_id, result, error, completed_at, expires_at
		FROM task_results
		WHERE task_id = $1
	`

	var (
		result      domain.TaskResult
		payload     []byte
		completedAt time.Time
		expiresAt   time.Time
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&result.TaskID,
		&payload,
		&result.Error,
		&completedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrResultNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task result: %w", MapError(err))
	}

	result.Result = json.RawMessage(payload)
	result.CompletedAt = completedAt.UTC()
	result.ExpiresAt = expiresAt.UTC()

	return &result, nil
}

// DeleteExpired purges results whose expiry has passed.
func (s *ResultStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM task_results WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired results: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}
