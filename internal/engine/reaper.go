package engine

import (
	"context"
	"time"

	"github.com/taskwell/taskwell/internal/domain"
)

// reaper is the single background sweeper. On each interval it expires
// pending tasks that outlived their timeout and purges results and terminal
// records past the result TTL. It only ever acts on records no worker
// holds, so both sweeps are idempotent and safe during worker activity.
// Errors are logged and the loop continues; a broken store never crashes
// the process.
func (e *Engine) reaper(ctx context.Context) {
	logger := e.logger.With("component", "reaper")
	logger.Debug("reaper started")

	ticker := time.NewTicker(e.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("reaper stopped")
			return
		case <-ticker.C:
			e.sweepExpiredTasks(ctx)
			e.purgeOldResults(ctx)
		}
	}
}

// sweepExpiredTasks expires pending tasks whose age exceeds their timeout:
// the queue entry is removed first, then the record flips to expired only
// if it is still pending, so a worker that popped the id concurrently wins.
func (e *Engine) sweepExpiredTasks(ctx context.Context) {
	logger := e.logger.With("component", "reaper")
	now := time.Now().UTC()

	pending, err := e.deps.Tasks.ListTasksByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		logger.Error("failed to scan pending tasks", "error", err)
		return
	}

	expired := 0
	for _, task := range pending {
		if !task.ExpiredWhilePending(now) {
			continue
		}

		if _, err := e.deps.Queue.Remove(ctx, task.ID); err != nil {
			logger.Error("failed to remove expired task from queue",
				"task_id", task.ID,
				"error", err)
			continue
		}

		marked, err := e.deps.Tasks.MarkExpiredIfPending(ctx, task.ID, now)
		if err != nil {
			logger.Error("failed to mark task expired",
				"task_id", task.ID,
				"error", err)
			continue
		}
		if marked {
			expired++
			if err := task.MarkExpired(now); err == nil {
				e.emitLifecycle(ctx, task)
			}
		}
	}

	if expired > 0 {
		logger.Info("expired stale pending tasks", "count", expired)
	}
}

// purgeOldResults deletes results past their expiry and terminal task
// records older than the result TTL.
func (e *Engine) purgeOldResults(ctx context.Context) {
	logger := e.logger.With("component", "reaper")
	now := time.Now().UTC()

	purgedResults, err := e.deps.Results.DeleteExpired(ctx, now)
	if err != nil {
		logger.Error("failed to purge expired results", "error", err)
	}

	purgedTasks, err := e.deps.Tasks.DeleteTerminalBefore(ctx, now.Add(-e.cfg.ResultTTL))
	if err != nil {
		logger.Error("failed to purge old terminal tasks", "error", err)
	}

	if purgedResults > 0 || purgedTasks > 0 {
		logger.Info("purged old task data",
			"results", purgedResults,
			"records", purgedTasks)
	}
}
