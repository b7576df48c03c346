package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/dither/internal/domain"
)

// Handler processes one job type. Process must observe ctx at its suspension
// points; cancellation is cooperative.
type Handler interface {
	Type() domain.JobType
	Process(ctx context.Context, job *domain.Job) (*domain.JobResult, error)
}

// Router dispatches jobs to the handler registered for their type. It times
// and logs every call uniformly but never reinterprets handler failures;
// settling the job is the poller's responsibility.
type Router struct {
	log      *slog.Logger
	handlers map[domain.JobType]Handler
}

func NewRouter(log *slog.Logger) *Router {
	return &Router{
		log:      log,
		handlers: make(map[domain.JobType]Handler),
	}
}

// Register indexes a handler by its declared type. Last registration wins.
func (r *Router) Register(h Handler) {
	r.handlers[h.Type()] = h
}

func (r *Router) HasHandler(jobType domain.JobType) bool {
	_, ok := r.handlers[jobType]
	return ok
}

func (r *Router) Route(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	h, ok := r.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoHandler, job.Type)
	}

	log := r.log.With(
		"job_id", job.ID,
		"job_type", string(job.Type),
		"asset_id", job.AssetID,
		"queue", string(job.Queue),
		"trace_id", job.TraceID,
	)
	log.Info("job.start", "attempt", job.Attempts, "max_attempts", job.MaxAttempts)

	start := time.Now()
	result, err := h.Process(ctx, job)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("job.error", "elapsed", elapsed, "error", err)
		return nil, err
	}
	log.Info("job.done", "elapsed", elapsed)
	return result, nil
}
