package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/markdave123-py/docsift/internal/models"
	"github.com/markdave123-py/docsift/internal/telemetry"
)

type MemoryOptions struct {
	Concurrency int
	MaxRetry    int
	Retention   time.Duration
	Backoff     func(n int) time.Duration
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
}

// MemoryQueue runs tasks in-process on an ants pool. State lives only as long as the process.
type MemoryQueue struct {
	pool     *ants.Pool
	ingestor Ingestor
	opts     MemoryOptions
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*models.TaskState
	timers map[*time.Timer]struct{}
	closed bool
}

func NewMemoryQueue(ingestor Ingestor, opts MemoryOptions) (*MemoryQueue, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.Backoff == nil {
		opts.Backoff = Backoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		pool:     pool,
		ingestor: ingestor,
		opts:     opts,
		logger:   logger.With("component", "memory_queue"),
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[string]*models.TaskState),
		timers:   make(map[*time.Timer]struct{}),
	}, nil
}

func (q *MemoryQueue) Enqueue(_ context.Context, job models.IngestJob) (string, error) {
	id := uuid.NewString()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", errors.New("queue closed")
	}
	q.tasks[id] = pending(id)
	q.wg.Add(1)
	q.mu.Unlock()

	// Submit blocks while every worker is busy; the caller must not.
	go func() {
		defer q.wg.Done()
		q.submit(id, job, 0)
	}()
	return id, nil
}

func (q *MemoryQueue) submit(id string, job models.IngestJob, attempt int) {
	q.wg.Add(1)
	err := q.pool.Submit(func() {
		defer q.wg.Done()
		q.run(id, job, attempt)
	})
	if err != nil {
		q.wg.Done()
		q.finish(id, models.TaskFailure, nil, ErrorInfoFrom(fmt.Errorf("submit task: %w", err)))
	}
}

func (q *MemoryQueue) run(id string, job models.IngestJob, attempt int) {
	q.set(id, func(st *models.TaskState) { st.Status = models.TaskStarted })
	log := q.logger.With("task_id", id, "document_id", job.DocumentID, "attempt", attempt+1)

	start := time.Now()
	summary, err := q.ingestor.Process(q.ctx, job)
	elapsed := time.Since(start).Seconds()
	if err == nil {
		q.opts.Metrics.RecordTask(q.ctx, elapsed, "success")
		q.finish(id, models.TaskSuccess, summary, nil)
		return
	}

	info := ErrorInfoFrom(err)
	if Retryable(err) && attempt < q.opts.MaxRetry && q.ctx.Err() == nil {
		q.opts.Metrics.RecordTask(q.ctx, elapsed, "retry")
		log.Warn("ingest task will be retried", "err", err)
		q.set(id, func(st *models.TaskState) {
			st.Status = models.TaskRetry
			st.ErrorInfo = info
		})
		q.after(q.opts.Backoff(attempt+1), func() { q.submit(id, job, attempt+1) })
		return
	}

	q.opts.Metrics.RecordTask(q.ctx, elapsed, "failure")
	log.Error("ingest task failed", "err", err)
	q.finish(id, models.TaskFailure, nil, info)
}

func (q *MemoryQueue) finish(id string, status models.TaskStatus, summary *models.IngestSummary, info *models.ErrorInfo) {
	q.set(id, func(st *models.TaskState) {
		st.Status = status
		st.Result = summary
		st.ErrorInfo = info
	})
	q.after(q.opts.Retention, func() {
		q.mu.Lock()
		delete(q.tasks, id)
		q.mu.Unlock()
	})
}

// after runs fn once d elapses unless the queue closes first.
func (q *MemoryQueue) after(d time.Duration, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer q.wg.Done()
		q.mu.Lock()
		_, live := q.timers[t]
		delete(q.timers, t)
		q.mu.Unlock()
		if live {
			fn()
		}
	})
	q.timers[t] = struct{}{}
}

func (q *MemoryQueue) set(id string, fn func(*models.TaskState)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.tasks[id]
	if !ok {
		st = pending(id)
		q.tasks[id] = st
	}
	fn(st)
}

func (q *MemoryQueue) Status(_ context.Context, taskID string) (*models.TaskState, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.tasks[taskID]
	if !ok {
		return pending(taskID), nil
	}
	cp := *st
	return &cp, nil
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue closed")
	}
	return nil
}

// Close cancels running tasks, drops pending retries and waits for workers to exit.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for t := range q.timers {
		if t.Stop() {
			q.wg.Done()
		}
	}
	clear(q.timers)
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.pool.Release()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
