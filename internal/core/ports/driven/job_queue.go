package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// JobQueue delivers processing jobs at least once.
// Implementations can use Redis (preferred), Postgres (fallback) or Pub/Sub.
type JobQueue interface {
	// Enqueue adds a job to the queue.
	// The job becomes visible at its ScheduledFor time.
	Enqueue(ctx context.Context, job *domain.ProcessingJob) error

	// EnqueueBatch adds multiple jobs to the queue.
	EnqueueBatch(ctx context.Context, jobs []*domain.ProcessingJob) error

	// DequeueBatch retrieves up to max jobs, waiting up to timeout for the first.
	// Returns an empty slice if the timeout is reached with no jobs available.
	// Returned jobs are invisible to other workers until acked or retried.
	DequeueBatch(ctx context.Context, max int, timeout time.Duration) ([]*domain.ProcessingJob, error)

	// Ack removes a delivered job from the queue.
	Ack(ctx context.Context, job *domain.ProcessingJob) error

	// Retry returns a delivered job to the queue, visible after delay.
	// The job's DeliveryAttempt and LastError are persisted as given.
	Retry(ctx context.Context, job *domain.ProcessingJob, delay time.Duration) error

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*domain.QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}
