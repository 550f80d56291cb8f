package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/platform/logger"
	"github.com/taskwell/taskwell/internal/store"
)

// TaskStore implements store.TaskStore over PostgreSQL. Result payloads are
// not stored on the record: terminal output lives in the result store and is
// merged in by the engine facade at read time.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a TaskStore bound to the given connection or
// transaction.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// WithTx returns a TaskStore that runs against the provided transaction.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{db: tx}
}

const taskColumns = `id, type, payload, status, priority, created_at, started_at,
	completed_at, error, retry_count, max_retries, timeout_seconds, correlation`

// SaveTask inserts a new task record.
func (s *TaskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		[]byte(task.Payload),
		string(task.Status),
		int(task.Priority),
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
		task.Error,
		task.RetryCount,
		task.MaxRetries,
		int(task.Timeout/time.Second),
		task.Correlation,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return fmt.Errorf("failed to save task: %w", MapError(err))
	}

	return nil
}

// GetTask retrieves a task record by id.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	task, err := scanTask(row)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		return nil, err
	}

	return task, nil
}

// UpdateTask writes the record's mutable fields back: status, timestamps,
// error, and retry count.
func (s *TaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET status = $1, started_at = $2, completed_at = $3, error = $4, retry_count = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		string(task.Status),
		task.StartedAt,
		task.CompletedAt,
		task.Error,
		task.RetryCount,
		task.ID,
	)
	if err != nil {
		log.Error("failed to update task",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
		return fmt.Errorf("failed to update task: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, task.ID)
	}

	return nil
}

// MarkRunningIfPending claims a popped record for execution. The status
// predicate is part of the statement, so a cancel or expiry that won the
// race after the pop leaves the claim unsatisfied.
func (s *TaskStore) MarkRunningIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		string(domain.TaskStatusRunning),
		now.UTC(),
		id,
		string(domain.TaskStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark task running: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkCancelledIfPending flips a still-pending record to cancelled. The
// status predicate is part of the statement, so a worker that already took
// ownership wins the race and the cancel reports false.
func (s *TaskStore) MarkCancelledIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return s.markTerminalIfPending(ctx, id, domain.TaskStatusCancelled, "", now)
}

// MarkExpiredIfPending flips a still-pending record to expired.
func (s *TaskStore) MarkExpiredIfPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return s.markTerminalIfPending(ctx, id, domain.TaskStatusExpired, "task expired before execution", now)
}

func (s *TaskStore) markTerminalIfPending(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	errMsg string,
	now time.Time,
) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1, completed_at = $2, error = $3
		WHERE id = $4 AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		string(status),
		now.UTC(),
		errMsg,
		id,
		string(domain.TaskStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark task %s: %w", status, MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListTasksByStatus returns all records in the given status, oldest first.
func (s *TaskStore) ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		log.Error("failed to query tasks by status",
			"status", status,
			"error", err)
		return nil, fmt.Errorf("failed to query tasks by status: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", MapError(err))
	}

	return tasks, nil
}

// DeleteTerminalBefore removes terminal records completed before the cutoff.
func (s *TaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM tasks
		WHERE status IN ($1, $2, $3, $4) AND completed_at IS NOT NULL AND completed_at < $5
	`

	result, err := s.db.ExecContext(ctx, query,
		string(domain.TaskStatusCompleted),
		string(domain.TaskStatusFailed),
		string(domain.TaskStatusCancelled),
		string(domain.TaskStatusExpired),
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal tasks: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// CountTasks returns the number of task records.
func (s *TaskStore) CountTasks(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", MapError(err))
	}
	return count, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask decodes one task row. Invalid status or priority values are
// reported as corrupt records rather than silently dropped.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		id             uuid.UUID
		taskType       string
		payload        []byte
		statusRaw      string
		priorityRank   int
		createdAt      time.Time
		startedAt      sql.NullTime
		completedAt    sql.NullTime
		errMsg         string
		retryCount     int
		maxRetries     int
		timeoutSeconds int
		correlation    string
	)

	if err := row.Scan(
		&id,
		&taskType,
		&payload,
		&statusRaw,
		&priorityRank,
		&createdAt,
		&startedAt,
		&completedAt,
		&errMsg,
		&retryCount,
		&maxRetries,
		&timeoutSeconds,
		&correlation,
	); err != nil {
		return nil, MapError(err)
	}

	status, err := domain.ParseTaskStatus(statusRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s: %w", store.ErrCorruptRecord, id, err)
	}

	priority, err := domain.TaskPriorityFromRank(priorityRank)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s: %w", store.ErrCorruptRecord, id, err)
	}

	task := &domain.Task{
		ID:          id,
		Type:        taskType,
		Payload:     json.RawMessage(payload),
		Status:      status,
		Priority:    priority,
		CreatedAt:   createdAt.UTC(),
		Error:       errMsg,
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
		Correlation: correlation,
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		task.CompletedAt = &t
	}

	return task, nil
}
