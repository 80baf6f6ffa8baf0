package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.Sweeper = (*StaleSweeper)(nil)

const sweeperLockName = "stale-sweeper"

// StaleSweeper re-enqueues documents left in processing by a crashed worker.
// A document counts as stale once it has not been updated for StaleAfter.
//
// For multi-worker deployments, configure a DistributedLock so only one
// instance sweeps per cycle.
type StaleSweeper struct {
	documents driven.DocumentStore
	queue     driven.JobQueue
	lock      driven.DistributedLock
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	interval   time.Duration
	staleAfter time.Duration
	lockTTL    time.Duration
	batchSize  int
}

// StaleSweeperConfig holds configuration for the sweeper.
type StaleSweeperConfig struct {
	Documents  driven.DocumentStore
	Queue      driven.JobQueue
	Lock       driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Logger     *slog.Logger
	Interval   time.Duration // How often to sweep (default: 1m)
	StaleAfter time.Duration // Processing age that counts as stuck (default: 15m)
	LockTTL    time.Duration // TTL for the distributed lock (default: 2m)
	BatchSize  int           // Documents re-enqueued per sweep (default: 100)
}

// NewStaleSweeper creates a new sweeper.
func NewStaleSweeper(cfg StaleSweeperConfig) *StaleSweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * interval
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &StaleSweeper{
		documents:  cfg.Documents,
		queue:      cfg.Queue,
		lock:       cfg.Lock,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		lockTTL:    lockTTL,
		batchSize:  batch,
	}
}

// Start begins the sweep loop.
// It runs until Stop is called or context is cancelled.
func (s *StaleSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("stale sweeper starting", "interval", s.interval, "stale_after", s.staleAfter)

	go s.run(ctx)
	return nil
}

// Stop gracefully stops the sweeper, waiting for an in-flight sweep
// unless ctx expires first.
func (s *StaleSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stale sweeper stopped")
	return nil
}

func (s *StaleSweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale sweeper context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StaleSweeper) sweep(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("stale sweep failed", "error", err)
	}
}

// SweepOnce re-enqueues stuck documents in incremental mode and returns how many
// were enqueued. A cycle where another instance holds the lock returns zero.
func (s *StaleSweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, sweeperLockName, s.lockTTL)
		if err != nil {
			return 0, err
		}
		if !acquired {
			s.logger.Debug("sweeper lock held by another instance, skipping cycle")
			return 0, nil
		}
		defer func() {
			if err := s.lock.Release(ctx, sweeperLockName); err != nil {
				s.logger.Warn("failed to release sweeper lock", "error", err)
			}
		}()
	}

	cutoff := time.Now().Add(-s.staleAfter)
	docs, err := s.documents.ListByStatus(ctx, domain.ProcessingStatusProcessing, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batchID := domain.GenerateID()
	jobs := make([]*domain.ProcessingJob, len(docs))
	for i, doc := range docs {
		job := domain.NewProcessingJob(doc.ID, domain.ProcessingModeIncremental, doc.Provider)
		job.BatchID = batchID
		jobs[i] = job
	}
	if err := s.queue.EnqueueBatch(ctx, jobs); err != nil {
		return 0, err
	}

	for _, doc := range docs {
		s.logger.Warn("re-enqueued stale document",
			"document_id", doc.ID,
			"updated_at", doc.UpdatedAt,
		)
	}
	return len(jobs), nil
}
