package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/core/ingestion_engine"
	"github.com/markdave123-py/docsift/internal/models"
)

type fakeIngestor struct {
	calls atomic.Int32
	fn    func(call int32, job models.IngestJob) (*models.IngestSummary, error)
}

func (f *fakeIngestor) Process(_ context.Context, job models.IngestJob) (*models.IngestSummary, error) {
	n := f.calls.Add(1)
	return f.fn(n, job)
}

func transientErr() error {
	return &failure.ProviderError{Provider: "gemini", Op: "embed", Class: failure.ClassTransient, Err: errors.New("503")}
}

func fatalErr() error {
	return &ingestion_engine.StageError{
		Stage: ingestion_engine.StageEmbed,
		Err:   &failure.ProviderError{Provider: "gemini", Op: "embed", Class: failure.ClassFatal, Err: errors.New("bad key")},
	}
}

func newTestQueue(t *testing.T, ing Ingestor, maxRetry int) *MemoryQueue {
	t.Helper()
	q, err := NewMemoryQueue(ing, MemoryOptions{
		Concurrency: 2,
		MaxRetry:    maxRetry,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func waitFor(t *testing.T, q Queue, id string, want models.TaskStatus) *models.TaskState {
	t.Helper()
	var st *models.TaskState
	require.Eventually(t, func() bool {
		var err error
		st, err = q.Status(context.Background(), id)
		return err == nil && st.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestMemoryQueue_Success(t *testing.T) {
	ing := &fakeIngestor{fn: func(_ int32, job models.IngestJob) (*models.IngestSummary, error) {
		return &models.IngestSummary{DocumentID: job.DocumentID, PagesProcessed: 2, StoreOutcome: "stored"}, nil
	}}
	q := newTestQueue(t, ing, 3)

	id, err := q.Enqueue(context.Background(), models.IngestJob{DocumentID: 7, ObjectKey: "k"})
	require.NoError(t, err)

	st := waitFor(t, q, id, models.TaskSuccess)
	require.NotNil(t, st.Result)
	assert.Equal(t, int64(7), st.Result.DocumentID)
	assert.Nil(t, st.ErrorInfo)
}

func TestMemoryQueue_TransientFailureIsRetried(t *testing.T) {
	ing := &fakeIngestor{fn: func(call int32, _ models.IngestJob) (*models.IngestSummary, error) {
		if call < 3 {
			return nil, transientErr()
		}
		return &models.IngestSummary{StoreOutcome: "stored"}, nil
	}}
	q := newTestQueue(t, ing, 3)

	id, err := q.Enqueue(context.Background(), models.IngestJob{DocumentID: 1})
	require.NoError(t, err)
	waitFor(t, q, id, models.TaskSuccess)
	assert.Equal(t, int32(3), ing.calls.Load())
}

func TestMemoryQueue_RetriesExhausted(t *testing.T) {
	ing := &fakeIngestor{fn: func(int32, models.IngestJob) (*models.IngestSummary, error) {
		return nil, transientErr()
	}}
	q := newTestQueue(t, ing, 2)

	id, err := q.Enqueue(context.Background(), models.IngestJob{DocumentID: 1})
	require.NoError(t, err)
	st := waitFor(t, q, id, models.TaskFailure)
	assert.Equal(t, int32(3), ing.calls.Load(), "first attempt plus two retries")
	require.NotNil(t, st.ErrorInfo)
	assert.Contains(t, st.ErrorInfo.Error, "503")
}

func TestMemoryQueue_FatalFailureIsNotRetried(t *testing.T) {
	ing := &fakeIngestor{fn: func(int32, models.IngestJob) (*models.IngestSummary, error) {
		return nil, fatalErr()
	}}
	q := newTestQueue(t, ing, 3)

	id, err := q.Enqueue(context.Background(), models.IngestJob{DocumentID: 1})
	require.NoError(t, err)
	st := waitFor(t, q, id, models.TaskFailure)

	assert.Equal(t, int32(1), ing.calls.Load())
	require.NotNil(t, st.ErrorInfo)
	assert.Equal(t, ingestion_engine.StageEmbed, st.ErrorInfo.Stage)
	assert.Contains(t, st.ErrorInfo.Error, "bad key")
	assert.NotEmpty(t, st.ErrorInfo.Traceback)
}

func TestMemoryQueue_UnknownTaskIsPending(t *testing.T) {
	q := newTestQueue(t, &fakeIngestor{}, 0)
	id := uuid.NewString()
	st, err := q.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, st.Status)
	assert.Equal(t, id, st.TaskID)
}

func TestMemoryQueue_MalformedTaskID(t *testing.T) {
	q := newTestQueue(t, &fakeIngestor{}, 0)
	_, err := q.Status(context.Background(), "not-a-task")
	assert.ErrorIs(t, err, ErrInvalidTaskID)
}

func TestMemoryQueue_EnqueueAfterClose(t *testing.T) {
	q := newTestQueue(t, &fakeIngestor{}, 0)
	require.NoError(t, q.Close())
	_, err := q.Enqueue(context.Background(), models.IngestJob{})
	assert.Error(t, err)
	assert.Error(t, q.Ping(context.Background()))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(0))
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 5*time.Minute, Backoff(20))
}

func failEmbedding() error {
	return &ingestion_engine.StageError{
		Stage: ingestion_engine.StageEmbed,
		Err:   pkgerrors.WithStack(errors.New("dimension mismatch")),
	}
}

func TestErrorInfoFrom_UsesStackOfOrigin(t *testing.T) {
	info := ErrorInfoFrom(fmt.Errorf("task: %w", failEmbedding()))
	require.NotNil(t, info)
	assert.Equal(t, ingestion_engine.StageEmbed, info.Stage)
	assert.Contains(t, info.Traceback, "dimension mismatch")
	assert.Contains(t, info.Traceback, "failEmbedding")
	assert.NotContains(t, info.Traceback, "queue.ErrorInfoFrom\n")
}

func TestErrorInfoFrom_WithoutStackKeepsMessage(t *testing.T) {
	err := errors.New("malformed payload")
	info := ErrorInfoFrom(err)
	assert.Equal(t, "malformed payload", info.Traceback)
	assert.Empty(t, info.Stage)
	assert.Nil(t, ErrorInfoFrom(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(transientErr()))
	assert.True(t, Retryable(&ingestion_engine.StageError{Stage: "extract", Err: transientErr()}))
	assert.False(t, Retryable(fatalErr()))
	assert.False(t, Retryable(failure.ErrStorage))
	assert.False(t, Retryable(fmt.Errorf("%w: dial tcp: connection refused", failure.ErrStorage)))
	assert.False(t, Retryable(nil))
}

func TestStateFromInfo(t *testing.T) {
	summary := taskResult{Summary: &models.IngestSummary{DocumentID: 3, PagesProcessed: 1}}
	okResult, _ := json.Marshal(summary)
	failed := taskResult{ErrorInfo: &models.ErrorInfo{Error: "boom", Stage: "store"}}
	failResult, _ := json.Marshal(failed)

	tests := []struct {
		name string
		info *asynq.TaskInfo
		want models.TaskStatus
	}{
		{"pending", &asynq.TaskInfo{ID: "a", State: asynq.TaskStatePending}, models.TaskPending},
		{"scheduled", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateScheduled}, models.TaskPending},
		{"active", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateActive}, models.TaskStarted},
		{"retry", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateRetry, LastErr: "503"}, models.TaskRetry},
		{"completed", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateCompleted, Result: okResult}, models.TaskSuccess},
		{"archived", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateArchived, Result: failResult}, models.TaskFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stateFromInfo(tt.info)
			assert.Equal(t, tt.want, st.Status)
			assert.Equal(t, "a", st.TaskID)
		})
	}

	st := stateFromInfo(&asynq.TaskInfo{ID: "a", State: asynq.TaskStateCompleted, Result: okResult})
	require.NotNil(t, st.Result)
	assert.Equal(t, int64(3), st.Result.DocumentID)

	st = stateFromInfo(&asynq.TaskInfo{ID: "a", State: asynq.TaskStateArchived, Result: failResult})
	require.NotNil(t, st.ErrorInfo)
	assert.Equal(t, "store", st.ErrorInfo.Stage)

	st = stateFromInfo(&asynq.TaskInfo{ID: "a", State: asynq.TaskStateRetry, LastErr: "503"})
	require.NotNil(t, st.ErrorInfo)
	assert.Equal(t, "503", st.ErrorInfo.Error)
}

func TestWorker_HandleIngest(t *testing.T) {
	job, _ := json.Marshal(models.IngestJob{DocumentID: 9, ObjectKey: "k"})

	t.Run("success", func(t *testing.T) {
		w := &Worker{ingestor: &fakeIngestor{fn: func(int32, models.IngestJob) (*models.IngestSummary, error) {
			return &models.IngestSummary{DocumentID: 9}, nil
		}}, logger: discardLogger()}
		assert.NoError(t, w.HandleIngest(context.Background(), asynq.NewTask(TypeIngestPDF, job)))
	})

	t.Run("transient error is retried", func(t *testing.T) {
		w := &Worker{ingestor: &fakeIngestor{fn: func(int32, models.IngestJob) (*models.IngestSummary, error) {
			return nil, transientErr()
		}}, logger: discardLogger()}
		err := w.HandleIngest(context.Background(), asynq.NewTask(TypeIngestPDF, job))
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("fatal error skips retry", func(t *testing.T) {
		w := &Worker{ingestor: &fakeIngestor{fn: func(int32, models.IngestJob) (*models.IngestSummary, error) {
			return nil, fatalErr()
		}}, logger: discardLogger()}
		err := w.HandleIngest(context.Background(), asynq.NewTask(TypeIngestPDF, job))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.ErrorIs(t, err, failure.ErrFatal)
	})

	t.Run("bad payload skips retry", func(t *testing.T) {
		ing := &fakeIngestor{}
		w := &Worker{ingestor: ing, logger: discardLogger()}
		err := w.HandleIngest(context.Background(), asynq.NewTask(TypeIngestPDF, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Equal(t, int32(0), ing.calls.Load())
	})
}

func TestNewIngestTask(t *testing.T) {
	task, err := NewIngestTask(models.IngestJob{DocumentID: 4, ObjectKey: "uploads/4/x.pdf"}, AsynqOptions{})
	require.NoError(t, err)
	assert.Equal(t, TypeIngestPDF, task.Type())

	var job models.IngestJob
	require.NoError(t, json.Unmarshal(task.Payload(), &job))
	assert.Equal(t, "uploads/4/x.pdf", job.ObjectKey)
}
