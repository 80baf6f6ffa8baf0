package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

const (
	// scheduledKey holds job IDs scored by the unix millisecond they become due.
	scheduledKey = "clinical:jobs:scheduled"

	// inflightKey holds delivered job IDs scored by their visibility deadline.
	inflightKey = "clinical:jobs:inflight"

	jobKeyPrefix = "clinical:job:"

	// jobDataTTL bounds how long an orphaned job payload survives.
	jobDataTTL = 7 * 24 * time.Hour

	// DefaultPollInterval is how often an empty queue is re-checked while waiting.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultVisibilityTimeout is how long a delivered job stays invisible
	// before it is handed to another worker.
	DefaultVisibilityTimeout = 15 * time.Minute
)

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue with two sorted sets and one key per job.
// Due jobs move from the scheduled set into the inflight set atomically;
// an inflight job whose deadline passes is returned to the scheduled set.
type Queue struct {
	client            redis.UniversalClient
	pollInterval      time.Duration
	visibilityTimeout time.Duration
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.UniversalClient) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Queue{
		client:            client,
		pollInterval:      DefaultPollInterval,
		visibilityTimeout: DefaultVisibilityTimeout,
	}, nil
}

// WithVisibilityTimeout overrides how long a delivered job is hidden.
func (q *Queue) WithVisibilityTimeout(d time.Duration) *Queue {
	if d > 0 {
		q.visibilityTimeout = d
	}
	return q
}

// Enqueue adds a job to the queue.
func (q *Queue) Enqueue(ctx context.Context, job *domain.ProcessingJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrInvalidInput)
	}
	return q.EnqueueBatch(ctx, []*domain.ProcessingJob{job})
}

// EnqueueBatch adds multiple jobs in one MULTI/EXEC transaction.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*domain.ProcessingJob) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if job.ScheduledFor.IsZero() {
			job.ScheduledFor = time.Now()
		}
		if job.EnqueuedAt.IsZero() {
			job.EnqueuedAt = job.ScheduledFor
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", job.ID, err)
		}
		pipe.Set(ctx, jobKeyPrefix+job.ID, data, jobDataTTL)
		pipe.ZAdd(ctx, scheduledKey, redis.Z{
			Score:  float64(job.ScheduledFor.UnixMilli()),
			Member: job.ID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	return nil
}

// claimScript returns expired inflight jobs to the scheduled set, then
// moves up to ARGV[2] due jobs into the inflight set.
// KEYS: scheduled, inflight. ARGV: now, max, visibility deadline.
var claimScript = redis.NewScript(`
	local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
	for _, id in ipairs(expired) do
		redis.call("ZREM", KEYS[2], id)
		redis.call("ZADD", KEYS[1], ARGV[1], id)
	end
	local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
	for _, id in ipairs(due) do
		redis.call("ZREM", KEYS[1], id)
		redis.call("ZADD", KEYS[2], ARGV[3], id)
	end
	return due
`)

// DequeueBatch claims up to max due jobs, polling until timeout when none are due.
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
	now := time.Now()
	ids, err := claimScript.Run(ctx, q.client,
		[]string{scheduledKey, inflightKey},
		now.UnixMilli(),
		max,
		now.Add(q.visibilityTimeout).UnixMilli(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKeyPrefix + id
	}
	values, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]*domain.ProcessingJob, 0, len(ids))
	var orphans []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			orphans = append(orphans, ids[i])
			continue
		}
		var job domain.ProcessingJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			orphans = append(orphans, ids[i])
			continue
		}
		jobs = append(jobs, &job)
	}
	// Payload expired or corrupt; nothing can be delivered for these IDs.
	if len(orphans) > 0 {
		if err := q.client.ZRem(ctx, inflightKey, orphans...).Err(); err != nil {
			return nil, fmt.Errorf("drop orphaned jobs: %w", err)
		}
	}
	return jobs, nil
}

// Ack removes a delivered job and its payload.
func (q *Queue) Ack(ctx context.Context, job *domain.ProcessingJob) error {
	pipe := q.client.TxPipeline()
	removed := pipe.ZRem(ctx, inflightKey, job.ID)
	pipe.Del(ctx, jobKeyPrefix+job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%w: job %s is not in flight", domain.ErrNotFound, job.ID)
	}
	return nil
}

// Retry stores the job as given and makes it visible again after delay.
func (q *Queue) Retry(ctx context.Context, job *domain.ProcessingJob, delay time.Duration) error {
	job.ScheduledFor = time.Now().Add(delay)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, jobDataTTL)
	pipe.ZRem(ctx, inflightKey, job.ID)
	pipe.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(job.ScheduledFor.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry job %s: %w", job.ID, err)
	}
	return nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	pipe := q.client.Pipeline()
	pending := pipe.ZCount(ctx, scheduledKey, "-inf", now)
	delayed := pipe.ZCount(ctx, scheduledKey, "("+now, "+inf")
	inflight := pipe.ZCard(ctx, inflightKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	return &domain.QueueStats{
		PendingJobs:    pending.Val(),
		ProcessingJobs: inflight.Val(),
		DelayedJobs:    delayed.Val(),
	}, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close cleans up resources.
func (q *Queue) Close() error {
	// Redis client is shared, don't close it here
	return nil
}
