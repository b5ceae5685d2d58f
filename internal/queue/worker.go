package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/docsift/internal/models"
	"github.com/markdave123-py/docsift/internal/telemetry"
)

type WorkerOptions struct {
	Concurrency int
	Queue       string
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
}

// Worker claims ingestion tasks from Redis and runs them through an Ingestor.
type Worker struct {
	srv      *asynq.Server
	mux      *asynq.ServeMux
	ingestor Ingestor
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewWorker(redisOpts *redis.Options, ingestor Ingestor, opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker")
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Queue == "" {
		opts.Queue = "critical"
	}

	w := &Worker{
		ingestor: ingestor,
		metrics:  opts.Metrics,
		logger:   logger,
	}
	w.srv = asynq.NewServer(RedisConnOpt(redisOpts), asynq.Config{
		Concurrency: opts.Concurrency,
		Queues:      map[string]int{opts.Queue: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return Backoff(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			logger.Error("ingest task failed", "task_id", id, "type", t.Type(), "err", err)
		}),
		Logger:   slogAsynq{logger},
		LogLevel: asynq.WarnLevel,
	})
	w.mux = asynq.NewServeMux()
	w.mux.HandleFunc(TypeIngestPDF, w.HandleIngest)
	return w
}

// Run blocks until SIGINT or SIGTERM.
func (w *Worker) Run() error { return w.srv.Run(w.mux) }

func (w *Worker) Start() error { return w.srv.Start(w.mux) }

func (w *Worker) Shutdown() { w.srv.Shutdown() }

// HandleIngest runs one ingestion task. Transient failures are returned for
// asynq to retry; everything else is marked to skip retry and archived.
func (w *Worker) HandleIngest(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	var job models.IngestJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		writeResult(t, taskResult{ErrorInfo: ErrorInfoFrom(err)})
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With("task_id", taskID, "document_id", job.DocumentID)
	log.Info("ingest task started", "filename", job.FileName)
	start := time.Now()

	summary, err := w.ingestor.Process(ctx, job)
	elapsed := time.Since(start).Seconds()
	if err == nil {
		writeResult(t, taskResult{Summary: summary})
		w.metrics.RecordTask(ctx, elapsed, "success")
		log.Info("ingest task finished",
			"pages_processed", summary.PagesProcessed,
			"pages_failed", summary.PagesFailed,
			"chunks_stored", summary.ChunksStored,
			"duration_s", elapsed)
		return nil
	}

	writeResult(t, taskResult{ErrorInfo: ErrorInfoFrom(err)})
	if Retryable(err) {
		w.metrics.RecordTask(ctx, elapsed, "retry")
		log.Warn("ingest task will be retried", "err", err)
		return err
	}
	w.metrics.RecordTask(ctx, elapsed, "failure")
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func writeResult(t *asynq.Task, res taskResult) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	if _, err := rw.Write(b); err != nil {
		slog.Warn("could not store task result", "task_id", rw.TaskID(), "err", err)
	}
}

// slogAsynq routes asynq's internal logging into slog.
type slogAsynq struct{ l *slog.Logger }

func (s slogAsynq) Debug(args ...any) { s.l.Debug(fmt.Sprint(args...)) }
func (s slogAsynq) Info(args ...any)  { s.l.Info(fmt.Sprint(args...)) }
func (s slogAsynq) Warn(args ...any)  { s.l.Warn(fmt.Sprint(args...)) }
func (s slogAsynq) Error(args ...any) { s.l.Error(fmt.Sprint(args...)) }
func (s slogAsynq) Fatal(args ...any) { s.l.Error(fmt.Sprint(args...)); os.Exit(1) }
