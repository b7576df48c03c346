package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/infrastructure/metrics"
	"github.com/bnema/dither/internal/port"
)

const abortMessage = "aborted: timeout or shutdown"

type PollerConfig struct {
	Queue        domain.Queue
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// QueuePoller drives one logical queue: an acquire/dispatch/settle loop
// bounded by a concurrency limit. Cross-process safety lives entirely in the
// store's atomic Acquire; the poller only tracks its own in-flight jobs.
type QueuePoller struct {
	cfg      PollerConfig
	store    port.JobStore
	router   *Router
	workerID string
	log      *slog.Logger

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	aborted map[string]bool
	paused  bool
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueuePoller(cfg PollerConfig, store port.JobStore, router *Router, workerID string, log *slog.Logger) *QueuePoller {
	return &QueuePoller{
		cfg:      cfg,
		store:    store,
		router:   router,
		workerID: workerID,
		log: log.With(
			"queue", string(cfg.Queue),
			"worker_id", workerID,
		),
		active:  make(map[string]context.CancelFunc),
		aborted: make(map[string]bool),
	}
}

func (p *QueuePoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
	p.log.Info("poller.start",
		"concurrency", p.cfg.Concurrency,
		"poll_interval", p.cfg.PollInterval,
		"job_timeout", p.cfg.JobTimeout)
}

// Stop ends the poll loop. In-flight jobs keep running; drain them with
// WaitForCompletion and AbortActiveJobs.
func (p *QueuePoller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.log.Info("poller.stop")
}

// Pause stops acquiring new jobs while letting active ones finish.
func (p *QueuePoller) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.log.Info("poller.pause")
}

func (p *QueuePoller) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.log.Info("poller.resume")
}

func (p *QueuePoller) canAcceptJobs() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped && !p.paused && len(p.active) < p.cfg.Concurrency
}

func (p *QueuePoller) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *QueuePoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce acquires jobs until the queue is empty or a slot limit is hit.
// Dispatch is fire-and-forget; the next tick fires on schedule regardless of
// how many jobs just started.
func (p *QueuePoller) pollOnce(ctx context.Context) {
	for p.canAcceptJobs() {
		job, err := p.store.Acquire(ctx, p.cfg.Queue, p.workerID)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Error("poller.acquire_failed", "error", err)
			}
			return
		}
		if job == nil {
			return
		}
		p.dispatch(job)
	}
}

func (p *QueuePoller) dispatch(job *domain.Job) {
	jobCtx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)

	p.mu.Lock()
	p.active[job.ID] = cancel
	p.mu.Unlock()
	metrics.ActiveJobs.WithLabelValues(string(p.cfg.Queue)).Inc()

	go p.run(jobCtx, cancel, job)
}

func (p *QueuePoller) run(ctx context.Context, cancel context.CancelFunc, job *domain.Job) {
	var wasAborted bool
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.active, job.ID)
		delete(p.aborted, job.ID)
		p.mu.Unlock()
		metrics.ActiveJobs.WithLabelValues(string(p.cfg.Queue)).Dec()
	}()

	type outcome struct {
		result *domain.JobResult
		err    error
	}
	settled := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, rerr := p.router.Route(ctx, job)
		settled <- outcome{result: res, err: rerr}
	}()

	// Cancellation is cooperative: when the timeout fires the job is settled
	// as failed even if the handler has not yet observed the signal.
	var out outcome
	select {
	case out = <-settled:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}
	result, err := out.result, out.err
	elapsed := time.Since(start)
	metrics.JobDuration.WithLabelValues(string(p.cfg.Queue), string(job.Type)).Observe(elapsed.Seconds())

	p.mu.Lock()
	wasAborted = p.aborted[job.ID]
	p.mu.Unlock()
	if wasAborted {
		// AbortActiveJobs already released the job back to pending.
		p.log.Info("job.released", "job_id", job.ID)
		return
	}

	// Settling must not be cut short by the expired job context.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer settleCancel()

	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = abortMessage
		}
		if _, ferr := p.store.Fail(settleCtx, job.ID, msg); ferr != nil {
			p.log.Error("job.fail_not_recorded", "job_id", job.ID, "error", ferr)
		}
		metrics.JobsProcessed.WithLabelValues(string(p.cfg.Queue), string(job.Type), "failed").Inc()
		return
	}

	if result == nil {
		result = &domain.JobResult{}
	}
	result.DurationMS = elapsed.Milliseconds()
	if _, cerr := p.store.Complete(settleCtx, job.ID, *result); cerr != nil {
		p.log.Error("job.complete_not_recorded", "job_id", job.ID, "error", cerr)
		metrics.JobsProcessed.WithLabelValues(string(p.cfg.Queue), string(job.Type), "failed").Inc()
		return
	}
	metrics.JobsProcessed.WithLabelValues(string(p.cfg.Queue), string(job.Type), "completed").Inc()
}

// WaitForCompletion polls the active set until it drains or the timeout
// elapses. Returns true when all jobs settled in time.
func (p *QueuePoller) WaitForCompletion(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if p.ActiveCount() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// AbortActiveJobs signals cancellation to every active job and releases each
// back to the store so another worker can pick it up without a retry penalty.
func (p *QueuePoller) AbortActiveJobs(ctx context.Context) {
	p.mu.Lock()
	cancels := make(map[string]context.CancelFunc, len(p.active))
	for id, cancel := range p.active {
		cancels[id] = cancel
		p.aborted[id] = true
	}
	p.mu.Unlock()

	for id, cancel := range cancels {
		cancel()
		if err := p.store.Release(ctx, id); err != nil {
			p.log.Error("job.release_failed", "job_id", id, "error", err)
		}
	}
	if len(cancels) > 0 {
		p.log.Warn("poller.aborted_active_jobs", "count", len(cancels))
	}
}
