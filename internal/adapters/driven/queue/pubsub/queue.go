package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Config holds the Pub/Sub queue settings.
type Config struct {
	Topic        *pubsub.Topic
	Subscription *pubsub.Subscription
	Logger       *slog.Logger

	// MaxOutstanding bounds messages held by this process at once.
	MaxOutstanding int
}

// Queue implements JobQueue on a Pub/Sub topic and subscription.
//
// Pub/Sub has no per-message delay, so a retried job is republished with
// its ScheduledFor set and held locally until due. The client keeps the
// ack deadline of held messages extended.
type Queue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *slog.Logger

	ready chan *delivery

	mu       sync.Mutex
	inflight map[string]*pubsub.Message
	waiting  int

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	recvErr   error
}

type delivery struct {
	job *domain.ProcessingJob
	msg *pubsub.Message
}

// NewQueue creates a new Pub/Sub-backed job queue.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Topic == nil || cfg.Subscription == nil {
		return nil, fmt.Errorf("%w: pubsub topic and subscription are required", domain.ErrConfiguration)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 64
	}
	cfg.Subscription.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding

	return &Queue{
		topic:    cfg.Topic,
		sub:      cfg.Subscription,
		logger:   cfg.Logger,
		ready:    make(chan *delivery, cfg.MaxOutstanding),
		inflight: make(map[string]*pubsub.Message),
		done:     make(chan struct{}),
	}, nil
}

// Enqueue publishes a job and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, job *domain.ProcessingJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrInvalidInput)
	}
	return q.EnqueueBatch(ctx, []*domain.ProcessingJob{job})
}

// EnqueueBatch publishes jobs concurrently and waits for every result.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*domain.ProcessingJob) error {
	results := make([]*pubsub.PublishResult, 0, len(jobs))
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
		results = append(results, q.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"document_id": job.DocumentID,
				"mode":        string(job.Mode),
			},
		}))
	}

	var errs []error
	for _, r := range results {
		if _, err := r.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %d of %d jobs failed: %w", len(errs), len(results), errors.Join(errs...))
	}
	return nil
}

// DequeueBatch returns up to max due jobs, waiting up to timeout for the first.
// The streaming receive starts on first call.
func (q *Queue) DequeueBatch(ctx context.Context, max int, timeout time.Duration) ([]*domain.ProcessingJob, error) {
	q.startOnce.Do(q.startReceive)
	if max <= 0 {
		max = 1
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var jobs []*domain.ProcessingJob
	select {
	case d := <-q.ready:
		jobs = append(jobs, q.track(d))
	case <-timer.C:
		return nil, q.receiveError()
	case <-q.done:
		return nil, q.receiveError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(jobs) < max {
		select {
		case d := <-q.ready:
			jobs = append(jobs, q.track(d))
		default:
			return jobs, nil
		}
	}
	return jobs, nil
}

func (q *Queue) track(d *delivery) *domain.ProcessingJob {
	q.mu.Lock()
	q.inflight[d.job.ID] = d.msg
	q.mu.Unlock()
	return d.job
}

func (q *Queue) startReceive() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	go func() {
		defer close(q.done)
		err := q.sub.Receive(ctx, q.receive)
		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("pubsub receive stopped", "subscription", q.sub.ID(), "error", err)
			q.mu.Lock()
			q.recvErr = err
			q.mu.Unlock()
		}
	}()
}

func (q *Queue) receive(ctx context.Context, msg *pubsub.Message) {
	var job domain.ProcessingJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		q.logger.Warn("dropping malformed job message", "message_id", msg.ID, "error", err)
		msg.Ack()
		return
	}

	if wait := time.Until(job.ScheduledFor); wait > 0 {
		q.mu.Lock()
		q.waiting++
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			q.mu.Lock()
			q.waiting--
			q.mu.Unlock()
			msg.Nack()
			return
		}

		q.mu.Lock()
		q.waiting--
		q.mu.Unlock()
	}

	select {
	case q.ready <- &delivery{job: &job, msg: msg}:
	case <-ctx.Done():
		msg.Nack()
	}
}

func (q *Queue) receiveError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.recvErr
}

func (q *Queue) take(jobID string) (*pubsub.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inflight[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s is not in flight", domain.ErrNotFound, jobID)
	}
	delete(q.inflight, jobID)
	return msg, nil
}

// Ack acknowledges a delivered job.
func (q *Queue) Ack(ctx context.Context, job *domain.ProcessingJob) error {
	msg, err := q.take(job.ID)
	if err != nil {
		return err
	}
	msg.Ack()
	return nil
}

// Retry republishes the job due after delay and acknowledges the delivered copy.
// If the republish fails the delivered copy is nacked so the job is not lost.
func (q *Queue) Retry(ctx context.Context, job *domain.ProcessingJob, delay time.Duration) error {
	msg, err := q.take(job.ID)
	if err != nil {
		return err
	}

	job.ScheduledFor = time.Now().Add(delay)
	if err := q.EnqueueBatch(ctx, []*domain.ProcessingJob{job}); err != nil {
		msg.Nack()
		return fmt.Errorf("republish job %s: %w", job.ID, err)
	}
	msg.Ack()
	return nil
}

// Stats reports what this process holds; Pub/Sub backlog is not visible here.
func (q *Queue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &domain.QueueStats{
		PendingJobs:    int64(len(q.ready)),
		ProcessingJobs: int64(len(q.inflight)),
		DelayedJobs:    int64(q.waiting),
	}, nil
}

// Ping checks that the subscription exists.
func (q *Queue) Ping(ctx context.Context) error {
	ok, err := q.sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: subscription %s does not exist", domain.ErrConfiguration, q.sub.ID())
	}
	return nil
}

// Close stops receiving and flushes pending publishes.
// Held messages are nacked for redelivery.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	for {
		select {
		case d := <-q.ready:
			d.msg.Nack()
		default:
			q.mu.Lock()
			for id, msg := range q.inflight {
				msg.Nack()
				delete(q.inflight, id)
			}
			q.mu.Unlock()
			q.topic.Stop()
			return nil
		}
	}
}

// EnsureTopology creates the topic and subscription when missing.
func EnsureTopology(ctx context.Context, client *pubsub.Client, topicID, subscriptionID string) (*pubsub.Topic, *pubsub.Subscription, error) {
	if topicID == "" || subscriptionID == "" {
		return nil, nil, fmt.Errorf("%w: topic and subscription names are required", domain.ErrConfiguration)
	}

	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !ok {
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			return nil, nil, fmt.Errorf("create topic %s: %w", topicID, err)
		}
	}

	sub := client.Subscription(subscriptionID)
	ok, err = sub.Exists(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("check subscription %s: %w", subscriptionID, err)
	}
	if !ok {
		sub, err = client.CreateSubscription(ctx, subscriptionID, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 60 * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create subscription %s: %w", subscriptionID, err)
		}
	}
	return topic, sub, nil
}
