// Package queue runs document ingestion as tracked background tasks.
//
// A task moves PENDING -> STARTED -> SUCCESS | FAILURE, passing through RETRY
// when a transient provider error re-queues it. Unknown task ids read as PENDING.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/core/ingestion_engine"
	"github.com/markdave123-py/docsift/internal/models"
)

const TypeIngestPDF = "pdf:ingest"

var ErrInvalidTaskID = errors.New("invalid task id")

// Queue is the producer side: enqueue a job, read its state back.
type Queue interface {
	Enqueue(ctx context.Context, job models.IngestJob) (string, error)
	Status(ctx context.Context, taskID string) (*models.TaskState, error)
	Ping(ctx context.Context) error
	Close() error
}

// Ingestor processes one job end to end.
type Ingestor interface {
	Process(ctx context.Context, job models.IngestJob) (*models.IngestSummary, error)
}

// taskResult is what a worker stores against a task id.
type taskResult struct {
	Summary   *models.IngestSummary `json:"summary,omitempty"`
	ErrorInfo *models.ErrorInfo     `json:"error_info,omitempty"`
}

// ValidateTaskID rejects ids that no backend could have issued.
func ValidateTaskID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return nil
}

// Retryable reports whether a failed task should go back on the queue.
// Only transient provider errors qualify; storage, auth and integrity failures are final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, failure.ErrStorage) || errors.Is(err, failure.ErrDataIntegrity) {
		return false
	}
	return failure.IsTransient(err)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// ErrorInfoFrom renders err for the task's error_info. The traceback is the
// stack recorded where the error was raised; errors without one carry only
// their message.
func ErrorInfoFrom(err error) *models.ErrorInfo {
	if err == nil {
		return nil
	}
	info := &models.ErrorInfo{
		Error:     err.Error(),
		Stage:     ingestion_engine.StageOf(err),
		Traceback: err.Error(),
	}
	var st stackTracer
	if errors.As(err, &st) {
		info.Traceback = fmt.Sprintf("%s%+v", err.Error(), st.StackTrace())
	}
	return info
}

// Backoff is the delay before retry n (1-based): 2s doubling, capped at 5m.
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := 2 * time.Second
	for i := 1; i < n; i++ {
		d *= 2
		if d >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}

func pending(id string) *models.TaskState {
	return &models.TaskState{TaskID: id, Status: models.TaskPending}
}
