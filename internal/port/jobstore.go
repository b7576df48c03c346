package port

import (
	"context"
	"time"

	"github.com/bnema/dither/internal/domain"
)

// JobFilter narrows List and RetryFailed. Zero values mean "any".
type JobFilter struct {
	Queue   domain.Queue
	Status  domain.JobStatus
	Type    domain.JobType
	AssetID string
	Limit   int
	Offset  int
}

type QueueStats struct {
	Queue      domain.Queue
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// JobStore is the persistent queue. Acquire is the only cross-process
// coordination point: it must atomically claim one eligible row so that no
// two workers ever hold the same job in processing.
type JobStore interface {
	Enqueue(ctx context.Context, job *domain.Job) error

	// Acquire claims the next pending job in the queue whose retry time has
	// passed, ordered by priority desc then creation time asc. Returns
	// (nil, nil) when the queue is empty.
	Acquire(ctx context.Context, queue domain.Queue, workerID string) (*domain.Job, error)

	Complete(ctx context.Context, jobID string, result domain.JobResult) (*domain.Job, error)

	// Fail reschedules the job with exponential backoff while attempts
	// remain, otherwise marks it failed terminally.
	Fail(ctx context.Context, jobID, errMsg string) (*domain.Job, error)

	// Cancel is valid only from pending or processing.
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)

	// Release returns a processing job to pending without consuming a retry.
	Release(ctx context.Context, jobID string) error

	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
	Delete(ctx context.Context, jobID string) error

	// Retry resets a failed job to pending for immediate re-acquisition.
	Retry(ctx context.Context, jobID string) (*domain.Job, error)
	RetryFailed(ctx context.Context, filter JobFilter) (int, error)

	Stats(ctx context.Context, queue domain.Queue) (*QueueStats, error)

	FindStuck(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error)
	ResetStuck(ctx context.Context, olderThan time.Duration) (int, error)
}
