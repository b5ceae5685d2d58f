package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/docsift/internal/models"
)

type AsynqOptions struct {
	Queue     string
	MaxRetry  int
	Retention time.Duration
	Timeout   time.Duration
}

func (o AsynqOptions) withDefaults() AsynqOptions {
	if o.Queue == "" {
		o.Queue = "critical"
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
	return o
}

// AsynqQueue enqueues ingestion tasks on Redis and reads their state back through the asynq inspector.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	rdb       *redis.Client
	opts      AsynqOptions
}

func NewAsynqQueue(redisOpts *redis.Options, opts AsynqOptions) *AsynqQueue {
	connOpt := RedisConnOpt(redisOpts)
	return &AsynqQueue{
		client:    asynq.NewClient(connOpt),
		inspector: asynq.NewInspector(connOpt),
		rdb:       redis.NewClient(redisOpts),
		opts:      opts.withDefaults(),
	}
}

// RedisConnOpt converts go-redis options into asynq's connection option.
func RedisConnOpt(o *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}
}

// NewIngestTask builds the asynq task for job.
func NewIngestTask(job models.IngestJob, opts AsynqOptions) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return asynq.NewTask(
		TypeIngestPDF,
		payload,
		asynq.MaxRetry(opts.MaxRetry),
		asynq.Timeout(opts.Timeout),
		asynq.Queue(opts.Queue),
		asynq.Retention(opts.Retention),
	), nil
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job models.IngestJob) (string, error) {
	task, err := NewIngestTask(job, q.opts)
	if err != nil {
		return "", fmt.Errorf("build ingest task: %w", err)
	}
	info, err := q.client.EnqueueContext(ctx, task, asynq.TaskID(uuid.NewString()))
	if err != nil {
		return "", fmt.Errorf("enqueue ingest task: %w", err)
	}
	return info.ID, nil
}

func (q *AsynqQueue) Status(_ context.Context, taskID string) (*models.TaskState, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	info, err := q.inspector.GetTaskInfo(q.opts.Queue, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return pending(taskID), nil
		}
		return nil, fmt.Errorf("inspect task %s: %w", taskID, err)
	}
	return stateFromInfo(info), nil
}

func (q *AsynqQueue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.rdb.Close())
}

// stateFromInfo maps asynq's task states onto the ingestion lifecycle.
func stateFromInfo(info *asynq.TaskInfo) *models.TaskState {
	st := &models.TaskState{TaskID: info.ID}
	switch info.State {
	case asynq.TaskStateActive:
		st.Status = models.TaskStarted
	case asynq.TaskStateRetry:
		st.Status = models.TaskRetry
	case asynq.TaskStateCompleted:
		st.Status = models.TaskSuccess
	case asynq.TaskStateArchived:
		st.Status = models.TaskFailure
	default:
		st.Status = models.TaskPending
	}

	var res taskResult
	if len(info.Result) > 0 {
		_ = json.Unmarshal(info.Result, &res)
	}
	switch st.Status {
	case models.TaskSuccess:
		st.Result = res.Summary
	case models.TaskRetry, models.TaskFailure:
		st.ErrorInfo = res.ErrorInfo
		if st.ErrorInfo == nil && info.LastErr != "" {
			st.ErrorInfo = &models.ErrorInfo{Error: info.LastErr}
		}
	}
	return st
}

var _ Queue = (*AsynqQueue)(nil)
