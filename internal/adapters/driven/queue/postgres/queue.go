package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Ensure Queue implements JobQueue
var _ driven.JobQueue = (*Queue)(nil)

const (
	statusPending    = "pending"
	statusProcessing = "processing"

	// DefaultPollInterval is how often an empty queue is re-checked while waiting.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultVisibilityTimeout is how long a delivered job stays invisible
	// before it is handed to another worker.
	DefaultVisibilityTimeout = 15 * time.Minute
)

const jobColumns = `
	id, document_id, mode, provider, delivery_attempt, max_retries,
	batch_id, last_error, enqueued_at, scheduled_for`

// Queue implements JobQueue on the processing_jobs table using SELECT FOR UPDATE SKIP LOCKED.
// This is the fallback queue when Redis is not available.
type Queue struct {
	db                *sql.DB
	pollInterval      time.Duration
	visibilityTimeout time.Duration
}

// NewQueue creates a new PostgreSQL-backed job queue.
// Assumes the processing_jobs table exists.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		db:                db,
		pollInterval:      DefaultPollInterval,
		visibilityTimeout: DefaultVisibilityTimeout,
	}
}

// WithVisibilityTimeout overrides how long a delivered job is hidden.
func (q *Queue) WithVisibilityTimeout(d time.Duration) *Queue {
	if d > 0 {
		q.visibilityTimeout = d
	}
	return q
}

// Enqueue adds a job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *domain.ProcessingJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrInvalidInput)
	}
	if _, err := q.db.ExecContext(ctx, insertJobQuery, jobArgs(job)...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// EnqueueBatch adds multiple jobs atomically
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*domain.ProcessingJob) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertJobQuery)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, job := range jobs {
		if _, err := stmt.ExecContext(ctx, jobArgs(job)...); err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const insertJobQuery = `
	INSERT INTO processing_jobs (` + jobColumns + `, status, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', NOW())
`

func jobArgs(job *domain.ProcessingJob) []any {
	scheduled := job.ScheduledFor
	if scheduled.IsZero() {
		scheduled = time.Now()
	}
	enqueued := job.EnqueuedAt
	if enqueued.IsZero() {
		enqueued = scheduled
	}
	return []any{
		job.ID,
		job.DocumentID,
		string(job.Mode),
		job.Provider,
		job.DeliveryAttempt,
		job.MaxRetries,
		job.BatchID,
		job.LastError,
		enqueued,
		scheduled,
	}
}

// DequeueBatch claims up to max due jobs, polling until timeout when none are due.
// Jobs delivered longer ago than the visibility timeout are claimable again.
func (q *Queue) DequeueBatch(ctx context.Context, max int, timeout time.Duration) ([]*domain.ProcessingJob, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(timeout)

	for {
		jobs, err := q.claim(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 || !time.Now().Before(deadline) {
			return jobs, nil
		}

		wait := q.pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (q *Queue) claim(ctx context.Context, max int) ([]*domain.ProcessingJob, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	selectQuery := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE (status = $1 AND scheduled_for <= NOW())
		   OR (status = $2 AND started_at < NOW() - $3 * INTERVAL '1 millisecond')
		ORDER BY scheduled_for ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQuery,
		statusPending,
		statusProcessing,
		q.visibilityTimeout.Milliseconds(),
		max,
	)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}

	var jobs []*domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	updateQuery := `
		UPDATE processing_jobs
		SET status = $1, started_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx, updateQuery, statusProcessing, job.ID); err != nil {
			return nil, fmt.Errorf("update job status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return jobs, nil
}

// Ack removes a finished job
func (q *Queue) Ack(ctx context.Context, job *domain.ProcessingJob) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM processing_jobs WHERE id = $1`, job.ID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, job.ID)
	}
	return nil
}

// Retry returns a delivered job to pending, visible after delay
func (q *Queue) Retry(ctx context.Context, job *domain.ProcessingJob, delay time.Duration) error {
	query := `
		UPDATE processing_jobs
		SET status = $1,
			delivery_attempt = $2,
			last_error = $3,
			scheduled_for = NOW() + $4 * INTERVAL '1 millisecond',
			started_at = NULL,
			updated_at = NOW()
		WHERE id = $5
	`
	result, err := q.db.ExecContext(ctx, query,
		statusPending,
		job.DeliveryAttempt,
		job.LastError,
		delay.Milliseconds(),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, job.ID)
	}
	return nil
}

// Stats returns job counts by state
func (q *Queue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $1 AND scheduled_for <= NOW()),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $1 AND scheduled_for > NOW())
		FROM processing_jobs
	`
	var stats domain.QueueStats
	err := q.db.QueryRowContext(ctx, query, statusPending, statusProcessing).Scan(
		&stats.PendingJobs,
		&stats.ProcessingJobs,
		&stats.DelayedJobs,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &stats, nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the database handle is owned by the caller
func (q *Queue) Close() error {
	return nil
}

func scanJob(rows *sql.Rows) (*domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	var mode string
	err := rows.Scan(
		&job.ID,
		&job.DocumentID,
		&mode,
		&job.Provider,
		&job.DeliveryAttempt,
		&job.MaxRetries,
		&job.BatchID,
		&job.LastError,
		&job.EnqueuedAt,
		&job.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}
	job.Mode = domain.ProcessingMode(mode)
	return &job, nil
}
