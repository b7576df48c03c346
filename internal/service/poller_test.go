package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/port"
)

// fakeJobStore is an in-memory stand-in for the sqlite store, good enough
// for exercising the poller's acquire/dispatch/settle loop.
type fakeJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	order     []string
	failed    map[string][]string
	completed map[string]domain.JobResult
	released  []string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:      make(map[string]*domain.Job),
		failed:    make(map[string][]string),
		completed: make(map[string]domain.JobResult),
	}
}

func (s *fakeJobStore) Enqueue(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return nil
}

func (s *fakeJobStore) Acquire(_ context.Context, queue domain.Queue, workerID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Queue == queue && job.Status == domain.JobStatusPending &&
			(job.NextRetryAt.IsZero() || !job.NextRetryAt.After(time.Now())) {
			eligible = append(eligible, job)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	job := eligible[0]
	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.WorkerID = workerID
	job.StartedAt = time.Now()
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) Complete(_ context.Context, jobID string, result domain.JobResult) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	job.Status = domain.JobStatusCompleted
	s.completed[jobID] = result
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) Fail(_ context.Context, jobID, errMsg string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	s.failed[jobID] = append(s.failed[jobID], errMsg)
	job.LastError = errMsg
	if job.Attempts < job.MaxAttempts {
		job.Status = domain.JobStatusPending
		job.NextRetryAt = time.Now().Add(domain.RetryBackoff(job.Attempts))
	} else {
		job.Status = domain.JobStatusFailed
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) Cancel(_ context.Context, jobID string) (*domain.Job, error) {
	return nil, nil
}

func (s *fakeJobStore) Release(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusPending
	job.Attempts--
	job.WorkerID = ""
	s.released = append(s.released, jobID)
	return nil
}

func (s *fakeJobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) List(_ context.Context, _ port.JobFilter) ([]*domain.Job, error) {
	return nil, nil
}

func (s *fakeJobStore) Delete(_ context.Context, _ string) error { return nil }

func (s *fakeJobStore) Retry(_ context.Context, _ string) (*domain.Job, error) { return nil, nil }

func (s *fakeJobStore) RetryFailed(_ context.Context, _ port.JobFilter) (int, error) { return 0, nil }

func (s *fakeJobStore) Stats(_ context.Context, queue domain.Queue) (*port.QueueStats, error) {
	return &port.QueueStats{Queue: queue}, nil
}

func (s *fakeJobStore) FindStuck(_ context.Context, _ time.Duration) ([]*domain.Job, error) {
	return nil, nil
}

func (s *fakeJobStore) ResetStuck(_ context.Context, _ time.Duration) (int, error) { return 0, nil }

func (s *fakeJobStore) failures(jobID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failed[jobID]...)
}

func (s *fakeJobStore) releasedJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.released...)
}

func (s *fakeJobStore) status(jobID string) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Status
}

var _ port.JobStore = (*fakeJobStore)(nil)

// blockingHandler holds every job until proceed is closed, or until the job
// context is cancelled.
type blockingHandler struct {
	jobType domain.JobType
	proceed chan struct{}
	result  *domain.JobResult
}

func (h *blockingHandler) Type() domain.JobType { return h.jobType }

func (h *blockingHandler) Process(ctx context.Context, _ *domain.Job) (*domain.JobResult, error) {
	select {
	case <-h.proceed:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestPoller(store port.JobStore, handler Handler, concurrency int, jobTimeout time.Duration) *QueuePoller {
	router := NewRouter(slog.Default())
	router.Register(handler)
	return NewQueuePoller(PollerConfig{
		Queue:        domain.QueueDefault,
		Concurrency:  concurrency,
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   jobTimeout,
	}, store, router, "test-worker", slog.Default())
}

func enqueuePending(t *testing.T, store *fakeJobStore, priority int) *domain.Job {
	t.Helper()
	job := domain.NewJob("asset-x", domain.JobTypeThumbnail, domain.QueueDefault, priority, "trace")
	require.NoError(t, store.Enqueue(context.Background(), job))
	return job
}

func TestQueuePoller_RespectsConcurrencyLimit(t *testing.T) {
	store := newFakeJobStore()
	handler := &blockingHandler{jobType: domain.JobTypeThumbnail, proceed: make(chan struct{})}

	jobHigh := enqueuePending(t, store, 10)
	jobMid := enqueuePending(t, store, 5)
	jobLow := enqueuePending(t, store, 1)
	_ = jobMid

	p := newTestPoller(store, handler, 2, 5*time.Second)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool { return p.ActiveCount() == 2 },
		time.Second, 5*time.Millisecond, "poller must fill both slots")

	// The low-priority job waits for a free slot.
	assert.Equal(t, domain.JobStatusPending, store.status(jobLow.ID))
	assert.Equal(t, domain.JobStatusProcessing, store.status(jobHigh.ID))

	close(handler.proceed)

	require.Eventually(t, func() bool {
		return store.status(jobHigh.ID) == domain.JobStatusCompleted &&
			store.status(jobMid.ID) == domain.JobStatusCompleted &&
			store.status(jobLow.ID) == domain.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, p.WaitForCompletion(time.Second))
}

func TestQueuePoller_CompletesWithResult(t *testing.T) {
	store := newFakeJobStore()
	handler := &blockingHandler{
		jobType: domain.JobTypeThumbnail,
		proceed: make(chan struct{}),
		result:  &domain.JobResult{OutputKey: "u/thumbnails/a.jpg"},
	}
	close(handler.proceed)

	job := enqueuePending(t, store, 0)

	p := newTestPoller(store, handler, 1, time.Second)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return store.status(job.ID) == domain.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	result := store.completed[job.ID]
	store.mu.Unlock()
	assert.Equal(t, "u/thumbnails/a.jpg", result.OutputKey)
	assert.GreaterOrEqual(t, result.DurationMS, int64(0))
}

func TestQueuePoller_TimeoutRecordsAbort(t *testing.T) {
	store := newFakeJobStore()
	// Never closed: the handler only returns when its context expires.
	handler := &blockingHandler{jobType: domain.JobTypeThumbnail, proceed: make(chan struct{})}

	job := enqueuePending(t, store, 0)

	p := newTestPoller(store, handler, 1, 50*time.Millisecond)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(store.failures(job.ID)) > 0
	}, time.Second, 5*time.Millisecond)

	failures := store.failures(job.ID)
	require.Len(t, failures, 1, "job must be settled exactly once")
	assert.Equal(t, "aborted: timeout or shutdown", failures[0])

	require.Eventually(t, func() bool { return p.ActiveCount() == 0 },
		time.Second, 5*time.Millisecond, "job must leave the active set")
}

func TestQueuePoller_HandlerErrorFailsJob(t *testing.T) {
	store := newFakeJobStore()
	router := NewRouter(slog.Default())
	router.Register(handlerFunc(domain.JobTypeThumbnail, func(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
		return nil, assert.AnError
	}))
	p := NewQueuePoller(PollerConfig{
		Queue:        domain.QueueDefault,
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   time.Second,
	}, store, router, "test-worker", slog.Default())

	job := enqueuePending(t, store, 0)

	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(store.failures(job.ID)) > 0
	}, time.Second, 5*time.Millisecond)

	assert.Contains(t, store.failures(job.ID)[0], assert.AnError.Error())
}

func TestQueuePoller_NoHandlerFailsJob(t *testing.T) {
	store := newFakeJobStore()
	router := NewRouter(slog.Default())
	p := NewQueuePoller(PollerConfig{
		Queue:        domain.QueueDefault,
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   time.Second,
	}, store, router, "test-worker", slog.Default())

	job := domain.NewJob("asset-x", domain.JobTypeGeocoding, domain.QueueDefault, 0, "trace")
	require.NoError(t, store.Enqueue(context.Background(), job))

	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(store.failures(job.ID)) > 0
	}, time.Second, 5*time.Millisecond)

	assert.Contains(t, store.failures(job.ID)[0], "no handler registered")
}

func TestQueuePoller_AbortActiveJobsReleases(t *testing.T) {
	store := newFakeJobStore()
	handler := &blockingHandler{jobType: domain.JobTypeThumbnail, proceed: make(chan struct{})}

	jobA := enqueuePending(t, store, 0)
	jobB := enqueuePending(t, store, 0)

	p := newTestPoller(store, handler, 2, time.Minute)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool { return p.ActiveCount() == 2 },
		time.Second, 5*time.Millisecond)

	p.AbortActiveJobs(context.Background())

	require.Eventually(t, func() bool { return p.ActiveCount() == 0 },
		time.Second, 5*time.Millisecond, "active set must drain after abort")

	released := store.releasedJobs()
	assert.ElementsMatch(t, []string{jobA.ID, jobB.ID}, released)

	// Released, not failed: both jobs are pending again with no retry burned.
	assert.Equal(t, domain.JobStatusPending, store.status(jobA.ID))
	assert.Equal(t, domain.JobStatusPending, store.status(jobB.ID))
	assert.Empty(t, store.failures(jobA.ID))
	assert.Empty(t, store.failures(jobB.ID))
}

func TestQueuePoller_PauseStopsAcquisition(t *testing.T) {
	store := newFakeJobStore()
	handler := &blockingHandler{jobType: domain.JobTypeThumbnail, proceed: make(chan struct{})}
	close(handler.proceed)

	p := newTestPoller(store, handler, 1, time.Second)
	p.Start()
	defer p.Stop()
	p.Pause()

	job := enqueuePending(t, store, 0)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.JobStatusPending, store.status(job.ID), "paused poller must not claim jobs")

	p.Resume()
	require.Eventually(t, func() bool {
		return store.status(job.ID) == domain.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestQueuePoller_StopPreventsNewAcquisitions(t *testing.T) {
	store := newFakeJobStore()
	handler := &blockingHandler{jobType: domain.JobTypeThumbnail, proceed: make(chan struct{})}
	close(handler.proceed)

	p := newTestPoller(store, handler, 1, time.Second)
	p.Start()
	p.Stop()

	job := enqueuePending(t, store, 0)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.JobStatusPending, store.status(job.ID))
}

// handlerFunc adapts a function to the Handler interface.
type handlerFuncT struct {
	jobType domain.JobType
	fn      func(context.Context, *domain.Job) (*domain.JobResult, error)
}

func handlerFunc(jobType domain.JobType, fn func(context.Context, *domain.Job) (*domain.JobResult, error)) Handler {
	return &handlerFuncT{jobType: jobType, fn: fn}
}

func (h *handlerFuncT) Type() domain.JobType { return h.jobType }

func (h *handlerFuncT) Process(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	return h.fn(ctx, job)
}
