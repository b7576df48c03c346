package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/port"
)

// AdminService backs the operator surface: inspecting the queue, nudging
// individual jobs and recovering from crashed workers. The HTTP layer that
// exposes it lives outside this worker.
type AdminService struct {
	store port.JobStore
	log   *slog.Logger
}

func NewAdminService(store port.JobStore, log *slog.Logger) *AdminService {
	return &AdminService{store: store, log: log}
}

func (s *AdminService) List(ctx context.Context, filter port.JobFilter) ([]*domain.Job, error) {
	return s.store.List(ctx, filter)
}

func (s *AdminService) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.store.Get(ctx, jobID)
}

func (s *AdminService) Create(ctx context.Context, assetID string, jobType domain.JobType, queue domain.Queue, priority int, traceID string) (*domain.Job, error) {
	job := domain.NewJob(assetID, jobType, queue, priority, traceID)
	if err := s.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	s.log.Info("admin.job_created", "job_id", job.ID, "job_type", string(jobType), "queue", string(queue))
	return job, nil
}

func (s *AdminService) Retry(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.store.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("admin.job_retried", "job_id", jobID)
	return job, nil
}

// RetryJobs batch-retries by id list. Jobs that are not in a failed state are
// skipped and do not fail the batch.
func (s *AdminService) RetryJobs(ctx context.Context, jobIDs []string) (int, error) {
	retried := 0
	for _, id := range jobIDs {
		if _, err := s.store.Retry(ctx, id); err != nil {
			s.log.Warn("admin.retry_skipped", "job_id", id, "error", err)
			continue
		}
		retried++
	}
	return retried, nil
}

func (s *AdminService) RetryFailed(ctx context.Context, filter port.JobFilter) (int, error) {
	n, err := s.store.RetryFailed(ctx, filter)
	if err != nil {
		return 0, err
	}
	s.log.Info("admin.failed_jobs_retried", "count", n)
	return n, nil
}

func (s *AdminService) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.store.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("admin.job_cancelled", "job_id", jobID)
	return job, nil
}

func (s *AdminService) Delete(ctx context.Context, jobID string) error {
	if err := s.store.Delete(ctx, jobID); err != nil {
		return err
	}
	s.log.Info("admin.job_deleted", "job_id", jobID)
	return nil
}

func (s *AdminService) Stats(ctx context.Context, queues []domain.Queue) ([]*port.QueueStats, error) {
	stats := make([]*port.QueueStats, 0, len(queues))
	for _, q := range queues {
		st, err := s.store.Stats(ctx, q)
		if err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, nil
}

func (s *AdminService) FindStuck(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	return s.store.FindStuck(ctx, olderThan)
}

func (s *AdminService) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.store.ResetStuck(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("admin.stuck_jobs_reset", "count", n, "older_than", olderThan)
	}
	return n, nil
}
