package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// RetryCall records one Retry invocation.
type RetryCall struct {
	JobID           string
	DeliveryAttempt int
	Delay           time.Duration
	Reason          string
}

// MockJobQueue is an in-memory JobQueue that records acks and retries.
// Retried jobs are immediately visible again; delays are only recorded.
type MockJobQueue struct {
	mu       sync.Mutex
	pending  []*domain.ProcessingJob
	inflight map[string]*domain.ProcessingJob
	acked    []string
	retries  []RetryCall

	EnqueueFn func(jobs []*domain.ProcessingJob) error
	AckFn     func(job *domain.ProcessingJob) error
}

func NewMockJobQueue() *MockJobQueue {
	return &MockJobQueue{inflight: make(map[string]*domain.ProcessingJob)}
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job *domain.ProcessingJob) error {
	return m.EnqueueBatch(ctx, []*domain.ProcessingJob{job})
}

func (m *MockJobQueue) EnqueueBatch(ctx context.Context, jobs []*domain.ProcessingJob) error {
	if m.EnqueueFn != nil {
		if err := m.EnqueueFn(jobs); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range jobs {
		cp := *j
		m.pending = append(m.pending, &cp)
	}
	return nil
}

func (m *MockJobQueue) DequeueBatch(ctx context.Context, max int, timeout time.Duration) ([]*domain.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max <= 0 {
		max = 1
	}
	n := len(m.pending)
	if n > max {
		n = max
	}
	out := make([]*domain.ProcessingJob, 0, n)
	for _, j := range m.pending[:n] {
		m.inflight[j.ID] = j
		cp := *j
		out = append(out, &cp)
	}
	m.pending = m.pending[n:]
	return out, nil
}

func (m *MockJobQueue) Ack(ctx context.Context, job *domain.ProcessingJob) error {
	if m.AckFn != nil {
		if err := m.AckFn(job); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[job.ID]; !ok {
		return fmt.Errorf("%w: job %s not in flight", domain.ErrNotFound, job.ID)
	}
	delete(m.inflight, job.ID)
	m.acked = append(m.acked, job.ID)
	return nil
}

func (m *MockJobQueue) Retry(ctx context.Context, job *domain.ProcessingJob, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[job.ID]; !ok {
		return fmt.Errorf("%w: job %s not in flight", domain.ErrNotFound, job.ID)
	}
	delete(m.inflight, job.ID)
	m.retries = append(m.retries, RetryCall{
		JobID:           job.ID,
		DeliveryAttempt: job.DeliveryAttempt,
		Delay:           delay,
		Reason:          job.LastError,
	})
	cp := *job
	m.pending = append(m.pending, &cp)
	return nil
}

func (m *MockJobQueue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &domain.QueueStats{
		PendingJobs:    int64(len(m.pending)),
		ProcessingJobs: int64(len(m.inflight)),
	}, nil
}

func (m *MockJobQueue) Ping(ctx context.Context) error { return nil }

func (m *MockJobQueue) Close() error { return nil }

// Acked returns acknowledged job IDs in order (for test assertions).
func (m *MockJobQueue) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

// Retries returns recorded retries in order (for test assertions).
func (m *MockJobQueue) Retries() []RetryCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RetryCall(nil), m.retries...)
}

// Pending returns the number of queued jobs.
func (m *MockJobQueue) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
