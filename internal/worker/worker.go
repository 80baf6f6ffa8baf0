package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

const (
	// DocumentLockTTL bounds one pipeline run; the job context is cancelled when it expires.
	DocumentLockTTL = 10 * time.Minute

	// LockedRetryDelay is how long a job waits when another worker holds its document.
	LockedRetryDelay = 30 * time.Second
)

// Outcome is what the consumer did with one job delivery.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"   // pipeline succeeded, acked
	OutcomeRetried     Outcome = "retried"     // failed, redelivered with backoff
	OutcomeRescheduled Outcome = "rescheduled" // delayed without consuming an attempt
	OutcomeDropped     Outcome = "dropped"     // acked without success
	OutcomeStale       Outcome = "stale"       // superseded by a later completion, acked
)

// Worker consumes ProcessingJobs and runs the pipeline for each one.
// Jobs from one dequeued batch are fanned out over a bounded goroutine pool.
type Worker struct {
	queue     driven.JobQueue
	documents driven.DocumentStore
	files     driven.FileStore
	pipeline  driving.PipelineService
	lock      driven.DistributedLock
	sweeper   driving.Sweeper
	logger    *slog.Logger

	// Configuration
	concurrency    int
	batchSize      int
	dequeueTimeout time.Duration
	lockTTL        time.Duration

	pool     *ants.Pool
	inflight sync.WaitGroup

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Queue          driven.JobQueue
	Documents      driven.DocumentStore
	Files          driven.FileStore
	Pipeline       driving.PipelineService
	Lock           driven.DistributedLock // Optional: per-document duplicate-delivery guard
	Sweeper        driving.Sweeper        // Optional: started and stopped with the worker
	Logger         *slog.Logger
	Concurrency    int           // Jobs processed in parallel (default 4)
	BatchSize      int           // Jobs pulled per dequeue (default Concurrency)
	DequeueTimeout time.Duration // How long a dequeue blocks when idle (default 5s)
	LockTTL        time.Duration // Per-document lock and run deadline (default 10m)
}

// NewWorker creates a new job consumer.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == nil || cfg.Documents == nil || cfg.Pipeline == nil {
		return nil, fmt.Errorf("%w: worker requires a queue, document store and pipeline", domain.ErrConfiguration)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = concurrency
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = DocumentLockTTL
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Worker{
		queue:          cfg.Queue,
		documents:      cfg.Documents,
		files:          cfg.Files,
		pipeline:       cfg.Pipeline,
		lock:           cfg.Lock,
		sweeper:        cfg.Sweeper,
		logger:         logger,
		concurrency:    concurrency,
		batchSize:      batchSize,
		dequeueTimeout: dequeueTimeout,
		lockTTL:        lockTTL,
		pool:           pool,
	}, nil
}

// Start begins the consume loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"batch_size", w.batchSize,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.sweeper != nil {
		if err := w.sweeper.Start(ctx); err != nil {
			w.logger.Error("failed to start stale sweeper", "error", err)
		}
	}

	go w.consumeLoop(ctx)
	return nil
}

// Stop gracefully stops the worker, letting in-flight jobs finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.sweeper != nil {
		if err := w.sweeper.Stop(context.Background()); err != nil {
			w.logger.Warn("failed to stop stale sweeper", "error", err)
		}
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// Close releases the goroutine pool. The worker cannot be restarted afterwards.
func (w *Worker) Close() {
	w.pool.Release()
}

func (w *Worker) consumeLoop(ctx context.Context) {
	defer close(w.doneCh)
	defer w.inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			w.logger.Info("worker stop signal received")
			return
		default:
		}

		jobs, err := w.queue.DequeueBatch(ctx, w.batchSize, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.logger.Error("failed to dequeue jobs", "error", err)
			w.pause(ctx, time.Second)
			continue
		}

		if len(jobs) == 0 {
			continue
		}

		for _, job := range jobs {
			w.dispatch(ctx, job)
		}
	}
}

// dispatch hands a job to the pool, blocking while every slot is busy.
func (w *Worker) dispatch(ctx context.Context, job *domain.ProcessingJob) {
	w.inflight.Add(1)
	err := w.pool.Submit(func() {
		defer w.inflight.Done()
		w.HandleJob(ctx, job)
	})
	if err != nil {
		w.inflight.Done()
		w.logger.Error("failed to submit job", "job_id", job.ID, "error", err)
		w.reschedule(ctx, job, LockedRetryDelay)
	}
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	case <-w.stopCh:
	}
}

// HandleJob processes one delivery and settles it on the queue.
func (w *Worker) HandleJob(ctx context.Context, job *domain.ProcessingJob) Outcome {
	logger := w.logger.With(
		"job_id", job.ID,
		"document_id", job.DocumentID,
		"delivery_attempt", job.DeliveryAttempt,
	)

	if err := domain.Validate(job); err != nil {
		logger.Warn("dropping invalid job", "error", err)
		return w.ack(ctx, job, OutcomeDropped, logger)
	}

	if w.lock != nil {
		name := lockName(job.DocumentID)
		acquired, err := w.lock.Acquire(ctx, name, w.lockTTL)
		if err != nil {
			return w.retry(ctx, job, fmt.Errorf("%w: acquire document lock: %v", domain.ErrStorage, err), logger)
		}
		if !acquired {
			logger.Info("document locked by another worker, rescheduling")
			return w.reschedule(ctx, job, LockedRetryDelay)
		}
		defer func() {
			if err := w.lock.Release(context.WithoutCancel(ctx), name); err != nil {
				logger.Warn("failed to release document lock", "error", err)
			}
		}()
	}

	doc, err := w.documents.Get(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Delivered ahead of the document commit; give it a few more tries.
			logger.Warn("document not found", "error", err)
		}
		return w.retry(ctx, job, err, logger)
	}

	if job.IsStaleFor(doc) {
		logger.Info("job superseded by a later completion", "completed_at", doc.CompletedAt)
		return w.ack(ctx, job, OutcomeStale, logger)
	}

	runCtx, cancel := context.WithTimeout(ctx, w.lockTTL)
	defer cancel()

	if err := w.checkFile(runCtx, doc); err != nil {
		w.markFailed(ctx, doc.ID, err, logger)
		return w.retry(ctx, job, err, logger)
	}

	start := time.Now()
	result, err := w.pipeline.Process(runCtx, job.DocumentID, domain.ProcessingOptions{
		Provider: job.Provider,
		Mode:     job.Mode,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.markFailed(ctx, doc.ID, err, logger)
		}
		return w.retry(ctx, job, err, logger)
	}

	logger.Info("job completed",
		"duration", time.Since(start),
		"provider", result.Provider,
		"tokens", result.TokensUsed.Total,
	)
	return w.ack(ctx, job, OutcomeCompleted, logger)
}

func (w *Worker) checkFile(ctx context.Context, doc *domain.Document) error {
	if w.files == nil {
		return nil
	}
	if doc.StorageKey == "" {
		return fmt.Errorf("%w: document %s has no storage key", domain.ErrStorage, doc.ID)
	}
	ok, err := w.files.Exists(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if !ok {
		return fmt.Errorf("%w: object %s not found", domain.ErrStorage, doc.StorageKey)
	}
	return nil
}

// markFailed records the error on the document unless it already carries it.
func (w *Worker) markFailed(ctx context.Context, documentID string, cause error, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	doc, err := w.documents.Get(ctx, documentID)
	if err != nil {
		logger.Warn("failed to load document to mark failed", "error", err)
		return
	}
	msg := cause.Error()
	if doc.ProcessingStatus == domain.ProcessingStatusFailed && doc.ProcessingError != nil && *doc.ProcessingError == msg {
		return
	}
	doc.MarkFailed(msg)
	if err := w.documents.Save(ctx, doc); err != nil {
		logger.Error("failed to mark document failed", "error", err)
	}
}

// retry redelivers a failed job with backoff, or acks it once retries are exhausted.
func (w *Worker) retry(ctx context.Context, job *domain.ProcessingJob, cause error, logger *slog.Logger) Outcome {
	if !job.CanRetry() {
		logger.Error("job failed, retries exhausted",
			"error", cause,
			"error_kind", domain.ErrorKind(cause),
		)
		return w.ack(ctx, job, OutcomeDropped, logger)
	}

	delay := job.Retry(cause.Error())
	logger.Warn("job failed, retrying",
		"error", cause,
		"error_kind", domain.ErrorKind(cause),
		"next_attempt", job.DeliveryAttempt,
		"delay", delay,
	)
	if err := w.queue.Retry(context.WithoutCancel(ctx), job, delay); err != nil {
		logger.Error("failed to retry job", "retry_error", err)
	}
	return OutcomeRetried
}

func (w *Worker) reschedule(ctx context.Context, job *domain.ProcessingJob, delay time.Duration) Outcome {
	job.Reschedule(delay)
	if err := w.queue.Retry(context.WithoutCancel(ctx), job, delay); err != nil {
		w.logger.Error("failed to reschedule job", "job_id", job.ID, "error", err)
	}
	return OutcomeRescheduled
}

func (w *Worker) ack(ctx context.Context, job *domain.ProcessingJob, outcome Outcome, logger *slog.Logger) Outcome {
	if err := w.queue.Ack(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to ack job", "ack_error", err)
	}
	return outcome
}

func lockName(documentID string) string {
	return "document:" + documentID
}

// Health returns health status of the worker.
type Health struct {
	Running     bool               `json:"running"`
	QueueHealth bool               `json:"queue_health"`
	Queue       *domain.QueueStats `json:"queue,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.queue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
		return health
	}
	health.QueueHealth = true

	if stats, err := w.queue.Stats(ctx); err == nil {
		health.Queue = stats
	}
	return health
}
