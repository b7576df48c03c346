package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/port"
)

const jobColumns = `id, asset_id, type, queue, priority, status, attempts, max_attempts,
	worker_id, last_error, result, payload, trace_id, created_at, started_at, completed_at, next_retry_at`

type JobStore struct {
	db *sql.DB
}

func NewJobStore(store *Store) *JobStore {
	return &JobStore{db: store.db}
}

func (s *JobStore) Enqueue(ctx context.Context, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_jobs (id, asset_id, type, queue, priority, status, attempts,
			max_attempts, worker_id, last_error, result, payload, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.AssetID, string(job.Type), string(job.Queue), job.Priority,
		string(job.Status), job.Attempts, job.MaxAttempts, job.WorkerID,
		job.LastError, job.Result, job.Payload, job.TraceID, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Acquire claims the next eligible job in a single UPDATE. The store runs on
// one writer connection, so the nested SELECT and the state transition are
// atomic across every worker process sharing the database.
func (s *JobStore) Acquire(ctx context.Context, queue domain.Queue, workerID string) (*domain.Job, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE processing_jobs
		SET status = ?, worker_id = ?, started_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM processing_jobs
			WHERE queue = ? AND status = ?
			  AND (next_retry_at IS NULL OR next_retry_at <= ?)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(domain.JobStatusProcessing), workerID, now,
		string(queue), string(domain.JobStatusPending), now)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("acquire job: %w", err)
	}
	return job, nil
}

func (s *JobStore) Complete(ctx context.Context, jobID string, result domain.JobResult) (*domain.Job, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE processing_jobs
		SET status = ?, completed_at = ?, result = ?
		WHERE id = ? AND status = ?
		RETURNING `+jobColumns,
		string(domain.JobStatusCompleted), time.Now().UTC(), string(resultJSON),
		jobID, string(domain.JobStatusProcessing))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.transitionError(ctx, jobID, "complete")
		}
		return nil, fmt.Errorf("complete job: %w", err)
	}
	return job, nil
}

// Fail reschedules with exponential backoff while attempts remain, otherwise
// terminates the job. The backoff uses the attempt count as of the failure.
func (s *JobStore) Fail(ctx context.Context, jobID, errMsg string) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts, maxAttempts int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT attempts, max_attempts, status FROM processing_jobs WHERE id = ?`, jobID).
		Scan(&attempts, &maxAttempts, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("fail job %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if domain.JobStatus(status).IsTerminal() {
		return nil, fmt.Errorf("fail job %s: %w", jobID, domain.ErrTerminalState)
	}

	now := time.Now().UTC()
	if attempts < maxAttempts {
		nextRetry := now.Add(domain.RetryBackoff(attempts))
		_, err = tx.ExecContext(ctx, `
			UPDATE processing_jobs
			SET status = ?, last_error = ?, next_retry_at = ?
			WHERE id = ?`,
			string(domain.JobStatusPending), errMsg, nextRetry, jobID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE processing_jobs
			SET status = ?, last_error = ?, completed_at = ?
			WHERE id = ?`,
			string(domain.JobStatusFailed), errMsg, now, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fail tx: %w", err)
	}
	return job, nil
}

func (s *JobStore) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE processing_jobs
		SET status = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)
		RETURNING `+jobColumns,
		string(domain.JobStatusCancelled), time.Now().UTC(), jobID,
		string(domain.JobStatusPending), string(domain.JobStatusProcessing))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.transitionError(ctx, jobID, "cancel")
		}
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	return job, nil
}

// Release hands a claimed job back untouched: the attempt the claim consumed
// is refunded so an abort is not penalized as a failure.
func (s *JobStore) Release(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = ?, worker_id = '', started_at = NULL, next_retry_at = NULL,
			attempts = MAX(attempts - 1, 0)
		WHERE id = ? AND status = ?`,
		string(domain.JobStatusPending), jobID, string(domain.JobStatusProcessing))
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("release job %s: %w", jobID, domain.ErrNotFound)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) List(ctx context.Context, filter port.JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs`
	where, args := filterClauses(filter)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processing_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Retry resets a failed job for a fresh round of attempts.
func (s *JobStore) Retry(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE processing_jobs
		SET status = ?, attempts = 0, next_retry_at = NULL, completed_at = NULL
		WHERE id = ? AND status = ?
		RETURNING `+jobColumns,
		string(domain.JobStatusPending), jobID, string(domain.JobStatusFailed))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("retry job %s: only failed jobs can be retried: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("retry job: %w", err)
	}
	return job, nil
}

func (s *JobStore) RetryFailed(ctx context.Context, filter port.JobFilter) (int, error) {
	filter.Status = domain.JobStatusFailed
	where, args := filterClauses(filter)
	query := `
		UPDATE processing_jobs
		SET status = '` + string(domain.JobStatusPending) + `',
			attempts = 0, next_retry_at = NULL, completed_at = NULL
		WHERE ` + strings.Join(where, " AND ")

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return int(n), nil
}

func (s *JobStore) Stats(ctx context.Context, queue domain.Queue) (*port.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM processing_jobs WHERE queue = ? GROUP BY status`,
		string(queue))
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &port.QueueStats{Queue: queue}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("queue stats: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusPending:
			stats.Pending = count
		case domain.JobStatusProcessing:
			stats.Processing = count
		case domain.JobStatusCompleted:
			stats.Completed = count
		case domain.JobStatusFailed:
			stats.Failed = count
		case domain.JobStatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

func (s *JobStore) FindStuck(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM processing_jobs
		WHERE status = ? AND started_at IS NOT NULL AND started_at <= ?
		ORDER BY started_at ASC`,
		string(domain.JobStatusProcessing), cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("find stuck jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ResetStuck returns jobs abandoned by a crashed worker to pending so any
// live poller can re-acquire them.
func (s *JobStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = ?, worker_id = '', started_at = NULL, next_retry_at = NULL
		WHERE status = ? AND started_at IS NOT NULL AND started_at <= ?`,
		string(domain.JobStatusPending), string(domain.JobStatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return int(n), nil
}

// transitionError distinguishes "job gone" from "job already terminal" when a
// guarded UPDATE matched no row.
func (s *JobStore) transitionError(ctx context.Context, jobID, op string) error {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM processing_jobs WHERE id = ?`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s job %s: %w", op, jobID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s job %s: %w", op, jobID, err)
	}
	return fmt.Errorf("%s job %s from status %s: %w", op, jobID, status, domain.ErrTerminalState)
}

func filterClauses(filter port.JobFilter) ([]string, []any) {
	var where []string
	var args []any
	if filter.Queue != "" {
		where = append(where, "queue = ?")
		args = append(args, string(filter.Queue))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, filter.AssetID)
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var jobType, queue, status string
	var startedAt, completedAt, nextRetryAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.AssetID, &jobType, &queue, &job.Priority, &status,
		&job.Attempts, &job.MaxAttempts, &job.WorkerID, &job.LastError,
		&job.Result, &job.Payload, &job.TraceID, &job.CreatedAt,
		&startedAt, &completedAt, &nextRetryAt)
	if err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Queue = domain.Queue(queue)
	job.Status = domain.JobStatus(status)
	job.StartedAt = startedAt.Time
	job.CompletedAt = completedAt.Time
	job.NextRetryAt = nextRetryAt.Time
	return &job, nil
}

var _ port.JobStore = (*JobStore)(nil)
