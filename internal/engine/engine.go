// Package engine implements the asynchronous task-processing engine: a
// durable, priority-ordered queue drained by a bounded worker pool, with
// per-task timeout and retry/backoff policy, a reaper for stale work and old
// results, and status/result querying. Storage is injected through the
// contracts in internal/store; the engine holds no global state, so several
// engines can coexist in one process.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/events"
	"github.com/taskwell/taskwell/internal/store"
)

// HandlerFunc processes one task attempt. The context carries a deadline
// equal to the task's timeout; a handler that ignores it is not forcibly
// stopped. The engine stops waiting at the deadline and the invocation
// keeps running in the background until it returns. Handlers must be safe
// to re-invoke: delivery is at-least-once.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Config holds the engine's tuning knobs.
type Config struct {
	// MaxWorkers is the worker pool size used when Start is called with 0.
	MaxWorkers int

	// PollTimeout bounds each idle dequeue wait so workers observe shutdown
	// promptly without busy-spinning.
	PollTimeout time.Duration

	// DefaultTaskTimeout applies to submissions that don't set a timeout.
	DefaultTaskTimeout time.Duration

	// DefaultMaxRetries applies to submissions that don't set a budget.
	DefaultMaxRetries int

	// BackoffCap bounds the exponential retry delay.
	BackoffCap time.Duration

	// ResultTTL is how long terminal outcomes stay queryable. The reaper
	// also deletes terminal task records once they age past it.
	ResultTTL time.Duration

	// ReaperInterval is the sweep cadence for expired tasks and old results.
	ReaperInterval time.Duration

	// StoreRetryDelay is how long background loops back off after a store
	// error before retrying.
	StoreRetryDelay time.Duration

	// ShutdownTimeout bounds how long Stop waits for workers and the reaper.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config matching the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:         10,
		PollTimeout:        time.Second,
		DefaultTaskTimeout: 5 * time.Minute,
		DefaultMaxRetries:  3,
		BackoffCap:         5 * time.Minute,
		ResultTTL:          time.Hour,
		ReaperInterval:     5 * time.Minute,
		StoreRetryDelay:    time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.DefaultTaskTimeout <= 0 {
		c.DefaultTaskTimeout = def.DefaultTaskTimeout
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = def.DefaultMaxRetries
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = def.ResultTTL
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = def.ReaperInterval
	}
	if c.StoreRetryDelay <= 0 {
		c.StoreRetryDelay = def.StoreRetryDelay
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
}

// Deps are the storage collaborators the engine coordinates. Submitter is
// optional: when set, submission is one durable operation; otherwise the
// engine writes the record first and enqueues second. Events is optional:
// when set, the engine publishes a lifecycle event for every task state
// change.
type Deps struct {
	Tasks      store.TaskStore
	Queue      store.TaskQueue
	Processing store.ProcessingSet
	Results    store.ResultStore
	Submitter  store.Submitter
	Events     events.Emitter
}

// Engine is the task engine facade.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	mu         sync.Mutex
	running    bool
	numWorkers int
	cancel     context.CancelFunc
	done       chan struct{}

	stats *stats
}

// New creates an Engine over the given stores. Zero config fields fall back
// to DefaultConfig values.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Engine, error) {
	if deps.Tasks == nil || deps.Queue == nil || deps.Processing == nil || deps.Results == nil {
		return nil, errors.New("engine: all store dependencies are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Engine{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		stats:    newStats(),
	}, nil
}

// RegisterHandler maps a task type to its handler. Registering the same
// type again replaces the handler.
func (e *Engine) RegisterHandler(taskType string, fn HandlerFunc) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[taskType] = fn

	e.logger.Info("registered task handler", "task_type", taskType)
}

// RegisteredTypes returns the task types with a registered handler, in
// sorted order.
func (e *Engine) RegisteredTypes() []string {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()

	types := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (e *Engine) handlerFor(taskType string) (HandlerFunc, bool) {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	fn, ok := e.handlers[taskType]
	return fn, ok
}

// SubmitRequest describes one task submission. Zero Priority means Normal;
// zero Timeout and nil MaxRetries take the configured defaults.
type SubmitRequest struct {
	Type        string
	Payload     json.RawMessage
	Priority    domain.TaskPriority
	Timeout     time.Duration
	MaxRetries  *int
	Correlation string
}

// SubmitTask allocates an id, writes a pending record, and inserts it into
// the queue ranked by priority (descending) then submission time (FIFO
// within a tier). The record is durably visible to GetTaskStatus before
// SubmitTask returns. Store failures surface to the caller.
func (e *Engine) SubmitTask(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	priority := req.Priority
	if priority == 0 {
		priority = domain.TaskPriorityNormal
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTaskTimeout
	}
	maxRetries := e.cfg.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	task, err := domain.NewTask(req.Type, req.Payload, priority, timeout, maxRetries, req.Correlation)
	if err != nil {
		return uuid.Nil, err
	}

	if e.deps.Submitter != nil {
		err = e.deps.Submitter.SubmitTask(ctx, task)
	} else {
		if err = e.deps.Tasks.SaveTask(ctx, task); err == nil {
			err = e.deps.Queue.Enqueue(ctx, task.ID, task.Priority, task.CreatedAt)
		}
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to submit task: %w", err)
	}

	e.logger.Info("submitted task",
		"task_id", task.ID,
		"task_type", task.Type,
		"priority", task.Priority.String())
	e.emitLifecycle(ctx, task)

	return task.ID, nil
}

// emitLifecycle publishes the task's current state to the optional event
// emitter. Emitter failures are logged, never propagated: events are an
// observability channel, not part of the processing contract.
func (e *Engine) emitLifecycle(ctx context.Context, task *domain.Task) {
	if e.deps.Events == nil {
		return
	}
	if err := e.deps.Events.EmitEvent(ctx, events.NewLifecycleEvent(task)); err != nil {
		e.logger.Warn("lifecycle event emission failed",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
	}
}

// GetTaskStatus returns a snapshot of the task record, merged with its
// terminal outcome from the result store when one exists. It has no side
// effects; repeated calls with no intervening state change return identical
// snapshots.
func (e *Engine) GetTaskStatus(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := e.deps.Tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed {
		result, err := e.deps.Results.GetResult(ctx, id)
		switch {
		case err == nil:
			task.Result = result.Result
			if result.Error != "" {
				task.Error = result.Error
			}
		case errors.Is(err, store.ErrResultNotFound):
			// Result already aged out; the record alone is the answer.
		default:
			return nil, err
		}
	}

	return task, nil
}

// CancelTask makes a best-effort attempt to cancel a still-pending task: it
// removes the id from the queue and, if the record is still pending, marks
// it cancelled. A task a worker already owns (or one already terminal) is
// not affected and CancelTask reports false. True means this call made the
// transition; removing a queue entry for a record that is no longer pending
// (a retry write-back can briefly leave one behind) does not count.
func (e *Engine) CancelTask(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, err := e.deps.Queue.Remove(ctx, id); err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}

	marked, err := e.deps.Tasks.MarkCancelledIfPending(ctx, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}

	if marked {
		e.stats.recordCancelled()
		e.logger.Info("cancelled task", "task_id", id)
		if e.deps.Events != nil {
			if task, err := e.deps.Tasks.GetTask(ctx, id); err == nil {
				e.emitLifecycle(ctx, task)
			}
		}
		return true, nil
	}

	return false, nil
}

// Start launches the worker pool and the reaper. A zero numWorkers uses
// the configured MaxWorkers. Starting a running engine is a no-op.
func (e *Engine) Start(numWorkers int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Warn("engine is already running")
		return nil
	}

	if numWorkers <= 0 {
		numWorkers = e.cfg.MaxWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.numWorkers = numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.worker(ctx, workerID)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reaper(ctx)
	}()

	go func() {
		wg.Wait()
		close(e.done)
	}()

	e.logger.Info("started task engine", "workers", numWorkers)
	return nil
}

// Stop signals all loops to finish their current iteration and waits for
// them, bounded by ShutdownTimeout. It is idempotent and safe to call from
// a signal handler. A handler invocation already past its dispatch point
// may keep consuming resources after Stop returns if it ignores its
// deadline.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()

	select {
	case <-done:
		e.logger.Info("stopped task engine")
	case <-time.After(e.cfg.ShutdownTimeout):
		e.logger.Error("engine shutdown timed out; abandoning outstanding workers",
			"timeout", e.cfg.ShutdownTimeout)
	}
}

// IsRunning reports whether the engine has been started and not stopped.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// backoffDelay returns the eligibility delay before retry attempt n
// (1-based): min(2^n, cap) seconds.
func (e *Engine) backoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	// Shift guard: past 30 the delay is over 34 years and the cap always
	// wins.
	if retryCount > 30 {
		retryCount = 30
	}
	delay := time.Duration(1<<uint(retryCount)) * time.Second
	if delay > e.cfg.BackoffCap {
		delay = e.cfg.BackoffCap
	}
	return delay
}
