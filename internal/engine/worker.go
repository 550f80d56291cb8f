package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/store"
)

// worker is one loop of the pool. It polls the queue with a bounded wait so
// shutdown is observed between polls, and recovers store errors locally:
// a broken store degrades throughput, never the process.
func (e *Engine) worker(ctx context.Context, workerID int) {
	logger := e.logger.With("worker_id", workerID)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped")
			return
		default:
		}

		taskID, err := e.deps.Queue.Dequeue(ctx, e.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, store.ErrQueueEmpty) {
				continue
			}
			if ctx.Err() != nil {
				logger.Debug("worker stopped")
				return
			}

			logger.Error("failed to dequeue task", "error", err)
			e.sleep(ctx, e.cfg.StoreRetryDelay)
			continue
		}

		e.processTask(ctx, taskID, logger.With("task_id", taskID))
	}
}

// handlerOutcome carries the result of one handler invocation.
type handlerOutcome struct {
	result json.RawMessage
	err    error
}

// processTask runs one popped task through claim, execution, and outcome
// persistence. The pop already granted exclusive ownership; everything
// here mutates only this task's state.
func (e *Engine) processTask(ctx context.Context, taskID uuid.UUID, logger *slog.Logger) {
	// The pop is the only copy of this id; if these writes are skipped the
	// task strands in whatever state it was left. Detach from the run
	// context so a Stop during execution still gets the outcome persisted.
	// Stop's ShutdownTimeout bounds the wait.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	e.stats.workerStarted()
	defer e.stats.workerFinished()

	now := time.Now().UTC()

	task, err := e.deps.Tasks.GetTask(ctx, taskID)
	if err != nil {
		// Includes corrupt records: unrecoverable here, surfaced to the
		// caller on their next status query.
		logger.Error("failed to load popped task", "error", err)
		return
	}

	// A task that sat queued past its timeout expires instead of running.
	// This also closes the race with the reaper, which may have removed a
	// different copy of the queue entry.
	if task.ExpiredWhilePending(now) {
		if _, err := e.deps.Tasks.MarkExpiredIfPending(ctx, taskID, now); err != nil {
			logger.Error("failed to expire stale task", "error", err)
		} else {
			logger.Warn("task expired before execution", "age", task.Age(now))
			if err := task.MarkExpired(now); err == nil {
				e.emitLifecycle(ctx, task)
			}
		}
		return
	}

	claimed, err := e.deps.Tasks.MarkRunningIfPending(ctx, taskID, now)
	if err != nil {
		logger.Error("failed to claim task", "error", err)
		return
	}
	if !claimed {
		// A cancel or expiry won the race between pop and claim.
		logger.Debug("task no longer pending, skipping")
		return
	}
	if err := task.MarkRunning(now); err != nil {
		logger.Error("failed to mark local task running", "error", err)
		return
	}
	e.emitLifecycle(ctx, task)

	if err := e.deps.Processing.Add(ctx, taskID); err != nil {
		logger.Error("failed to add processing entry", "error", err)
	}
	defer func() {
		if err := e.deps.Processing.Remove(ctx, taskID); err != nil {
			logger.Error("failed to remove processing entry", "error", err)
		}
	}()

	logger.Info("processing task",
		"task_type", task.Type,
		"retry_count", task.RetryCount)

	handler, ok := e.handlerFor(task.Type)
	if !ok {
		// A missing handler is a configuration defect, not a transient
		// fault: terminal failure, never retried.
		e.failTerminal(ctx, task, fmt.Sprintf("no handler registered for task type: %s", task.Type), logger)
		e.stats.recordFailed(time.Since(start))
		return
	}

	outcome := e.execute(ctx, handler, task)
	if outcome.err == nil {
		e.complete(ctx, task, outcome.result, logger)
		e.stats.recordProcessed(time.Since(start))
		return
	}

	logger.Error("task attempt failed", "error", outcome.err)

	if task.RetryCount < task.MaxRetries {
		e.retry(ctx, task, outcome.err, logger)
		return
	}

	e.failTerminal(ctx, task, outcome.err.Error(), logger)
	e.stats.recordFailed(time.Since(start))
}

// execute runs the handler in its own goroutine under a deadline equal to
// the task timeout. On deadline exceed the engine stops waiting and treats
// the attempt as failed; the invocation itself is not preempted.
func (e *Engine) execute(ctx context.Context, handler HandlerFunc, task *domain.Task) handlerOutcome {
	hctx, cancel := context.WithTimeout(context.Background(), task.Timeout)
	defer cancel()

	outcomeCh := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomeCh <- handlerOutcome{
					err: fmt.Errorf("handler panicked: %v\n%s", r, debug.Stack()),
				}
			}
		}()

		result, err := handler(hctx, task.Payload)
		if err != nil {
			outcomeCh <- handlerOutcome{err: err}
			return
		}

		raw, err := json.Marshal(result)
		if err != nil {
			outcomeCh <- handlerOutcome{err: fmt.Errorf("handler result not serializable: %w", err)}
			return
		}
		outcomeCh <- handlerOutcome{result: raw}
	}()

	select {
	case outcome := <-outcomeCh:
		return outcome
	case <-hctx.Done():
		return handlerOutcome{err: fmt.Errorf("handler timed out after %s", task.Timeout)}
	}
}

// complete persists a successful outcome: terminal record state plus a
// TTL-bound entry in the result store.
func (e *Engine) complete(ctx context.Context, task *domain.Task, result json.RawMessage, logger *slog.Logger) {
	now := time.Now().UTC()
	if err := task.MarkCompleted(result, now); err != nil {
		logger.Error("failed to mark task completed", "error", err)
		return
	}

	if err := e.deps.Tasks.UpdateTask(ctx, task); err != nil {
		logger.Error("failed to persist completed task", "error", err)
		return
	}

	if err := e.deps.Results.SaveResult(ctx, domain.NewTaskResult(task.ID, result, now, e.cfg.ResultTTL)); err != nil {
		logger.Error("failed to store task result", "error", err)
	}

	logger.Info("task completed", "retry_count", task.RetryCount)
	e.emitLifecycle(ctx, task)
}

// retry relabels the task pending, consumes one retry, and re-inserts it
// with a future eligibility time so backoff never starves fresh work.
func (e *Engine) retry(ctx context.Context, task *domain.Task, cause error, logger *slog.Logger) {
	now := time.Now().UTC()
	if err := task.PrepareRetry(cause.Error(), now); err != nil {
		logger.Error("failed to prepare retry", "error", err)
		return
	}

	if err := e.deps.Tasks.UpdateTask(ctx, task); err != nil {
		logger.Error("failed to persist retrying task", "error", err)
		return
	}

	delay := e.backoffDelay(task.RetryCount)
	if err := e.deps.Queue.Enqueue(ctx, task.ID, task.Priority, now.Add(delay)); err != nil {
		logger.Error("failed to requeue task for retry", "error", err)
		return
	}

	logger.Info("retrying task",
		"retry_count", task.RetryCount,
		"max_retries", task.MaxRetries,
		"delay", delay)
	e.emitLifecycle(ctx, task)
}

// failTerminal persists a terminal failure and its error detail with TTL.
func (e *Engine) failTerminal(ctx context.Context, task *domain.Task, errMsg string, logger *slog.Logger) {
	now := time.Now().UTC()
	if err := task.MarkFailed(errMsg, now); err != nil {
		logger.Error("failed to mark task failed", "error", err)
		return
	}

	if err := e.deps.Tasks.UpdateTask(ctx, task); err != nil {
		logger.Error("failed to persist failed task", "error", err)
		return
	}

	if err := e.deps.Results.SaveResult(ctx, domain.NewTaskError(task.ID, errMsg, now, e.cfg.ResultTTL)); err != nil {
		logger.Error("failed to store task error", "error", err)
	}

	logger.Error("task failed terminally",
		"retry_count", task.RetryCount,
		"error_detail", errMsg)
	e.emitLifecycle(ctx, task)
}

// sleep waits for d or until the context is cancelled.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
