package engine

import (
	"context"
	"sync"
	"time"

	"github.com/taskwell/taskwell/internal/domain"
	"github.com/taskwell/taskwell/internal/store"
)

// emaAlpha weights the newest sample in the processing-time moving average.
const emaAlpha = 0.2

// stats holds the engine's in-process counters. It is the only shared
// in-process mutable state; everything else lives in the store.
type stats struct {
	mu            sync.Mutex
	processed     int64
	failed        int64
	cancelled     int64
	activeWorkers int
	avgSeconds    float64
}

func newStats() *stats {
	return &stats{}
}

func (s *stats) workerStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeWorkers++
}

func (s *stats) workerFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeWorkers > 0 {
		s.activeWorkers--
	}
}

func (s *stats) recordProcessed(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	s.observe(d)
}

func (s *stats) recordFailed(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.observe(d)
}

func (s *stats) recordCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
}

// observe folds one processing duration into the exponential moving
// average. Caller holds the lock.
func (s *stats) observe(d time.Duration) {
	sample := d.Seconds()
	if s.processed+s.failed <= 1 {
		s.avgSeconds = sample
		return
	}
	s.avgSeconds = emaAlpha*sample + (1-emaAlpha)*s.avgSeconds
}

func (s *stats) snapshot() (processed, failed, cancelled int64, active int, avg time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.failed, s.cancelled, s.activeWorkers,
		time.Duration(s.avgSeconds * float64(time.Second))
}

// Stats is a read-only aggregate of engine and queue state.
type Stats struct {
	TasksProcessed        int64         `json:"tasks_processed"`
	TasksFailed           int64         `json:"tasks_failed"`
	TasksCancelled        int64         `json:"tasks_cancelled"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	ActiveWorkers         int           `json:"active_workers"`
	WorkersRunning        int           `json:"workers_running"`
	QueueSize             int           `json:"queue_size"`
	ProcessingSize        int           `json:"processing_size"`
	TotalTasks            int           `json:"total_tasks"`
	IsRunning             bool          `json:"is_running"`
}

// GetStats returns current counters plus queue depth, processing-set size,
// and total record count. It never mutates state.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	processed, failed, cancelled, active, avg := e.stats.snapshot()

	queueSize, err := e.deps.Queue.Depth(ctx)
	if err != nil {
		return nil, err
	}
	processingSize, err := e.deps.Processing.Size(ctx)
	if err != nil {
		return nil, err
	}
	totalTasks, err := e.deps.Tasks.CountTasks(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	workersRunning := 0
	if e.running {
		workersRunning = e.numWorkers
	}
	isRunning := e.running
	e.mu.Unlock()

	return &Stats{
		TasksProcessed:        processed,
		TasksFailed:           failed,
		TasksCancelled:        cancelled,
		AverageProcessingTime: avg,
		ActiveWorkers:         active,
		WorkersRunning:        workersRunning,
		QueueSize:             queueSize,
		ProcessingSize:        processingSize,
		TotalTasks:            totalTasks,
		IsRunning:             isRunning,
	}, nil
}

// QueuedTask pairs a queued record with its rank and eligibility window.
// Rank 0 is the next task to be dequeued.
type QueuedTask struct {
	Task       *domain.Task `json:"task"`
	Rank       int          `json:"rank"`
	EligibleAt time.Time    `json:"eligible_at"`
}

// QueueInfo is a detailed read-only view of the queue for observability.
type QueueInfo struct {
	QueuedTasks        []QueuedTask   `json:"queued_tasks"`
	ProcessingTasks    []*domain.Task `json:"processing_tasks"`
	RegisteredHandlers []string       `json:"registered_handlers"`
}

// GetQueueInfo lists queued tasks in dequeue order, in-flight tasks, and
// the registered handler types. Ids whose records vanished mid-listing are
// skipped rather than failing the whole view.
func (e *Engine) GetQueueInfo(ctx context.Context) (*QueueInfo, error) {
	entries, err := e.deps.Queue.Entries(ctx)
	if err != nil {
		return nil, err
	}

	queued := make([]QueuedTask, 0, len(entries))
	for i, entry := range entries {
		task, err := e.deps.Tasks.GetTask(ctx, entry.TaskID)
		if err != nil {
			if store.IsNotFoundError(err) {
				continue
			}
			return nil, err
		}
		queued = append(queued, QueuedTask{
			Task:       task,
			Rank:       i,
			EligibleAt: entry.EligibleAt,
		})
	}

	members, err := e.deps.Processing.Members(ctx)
	if err != nil {
		return nil, err
	}

	processing := make([]*domain.Task, 0, len(members))
	for _, id := range members {
		task, err := e.deps.Tasks.GetTask(ctx, id)
		if err != nil {
			if store.IsNotFoundError(err) {
				continue
			}
			return nil, err
		}
		processing = append(processing, task)
	}

	info := &QueueInfo{
		QueuedTasks:        queued,
		ProcessingTasks:    processing,
		RegisteredHandlers: e.RegisteredTypes(),
	}

	return info, nil
}
