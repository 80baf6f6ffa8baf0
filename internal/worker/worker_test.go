package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

// mockPipeline implements driving.PipelineService for testing
type mockPipeline struct {
	mu        sync.Mutex
	calls     []string
	processFn func(documentID string, opts domain.ProcessingOptions) (*domain.ProcessingResult, error)
}

func (m *mockPipeline) Process(ctx context.Context, documentID string, opts domain.ProcessingOptions) (*domain.ProcessingResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, documentID)
	m.mu.Unlock()
	if m.processFn != nil {
		return m.processFn(documentID, opts)
	}
	return &domain.ProcessingResult{DocumentID: documentID, Provider: "openai"}, nil
}

func (m *mockPipeline) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ driving.PipelineService = (*mockPipeline)(nil)

type workerFixture struct {
	queue    *mocks.MockJobQueue
	docs     *mocks.MockDocumentStore
	files    *mocks.MockFileStore
	lock     *mocks.MockDistributedLock
	pipeline *mockPipeline
	worker   *Worker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := &workerFixture{
		queue:    mocks.NewMockJobQueue(),
		docs:     mocks.NewMockDocumentStore(),
		files:    mocks.NewMockFileStore(),
		lock:     mocks.NewMockDistributedLock(),
		pipeline: &mockPipeline{},
	}
	w, err := NewWorker(WorkerConfig{
		Queue:          f.queue,
		Documents:      f.docs,
		Files:          f.files,
		Pipeline:       f.pipeline,
		Lock:           f.lock,
		Concurrency:    2,
		DequeueTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	f.worker = w

	f.docs.Put(&domain.Document{
		ID:               "doc-1",
		PatientID:        "patient-1",
		StorageKey:       "patients/patient-1/doc-1.pdf",
		ProcessingStatus: domain.ProcessingStatusPending,
	})
	f.files.Put("patients/patient-1/doc-1.pdf", &domain.File{Data: []byte("%PDF-1.7"), MimeType: "application/pdf"})
	return f
}

// deliver enqueues a job and dequeues it so the queue tracks it as in flight.
func (f *workerFixture) deliver(t *testing.T, job *domain.ProcessingJob) *domain.ProcessingJob {
	t.Helper()
	require.NoError(t, f.queue.Enqueue(context.Background(), job))
	jobs, err := f.queue.DequeueBatch(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestNewWorker_Defaults(t *testing.T) {
	w, err := NewWorker(WorkerConfig{
		Queue:     mocks.NewMockJobQueue(),
		Documents: mocks.NewMockDocumentStore(),
		Pipeline:  &mockPipeline{},
	})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 4, w.concurrency)
	assert.Equal(t, 4, w.batchSize)
	assert.Equal(t, 5*time.Second, w.dequeueTimeout)
	assert.Equal(t, DocumentLockTTL, w.lockTTL)
	assert.NotNil(t, w.logger)
}

func TestNewWorker_RequiresDependencies(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Queue: mocks.NewMockJobQueue()})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestWorker_HandleJob_Success(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.deliver(t, domain.NewProcessingJob("doc-1", domain.ProcessingModeFull, ""))

	outcome := f.worker.HandleJob(context.Background(), job)

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, []string{job.ID}, f.queue.Acked())
	assert.Empty(t, f.queue.Retries())
	assert.False(t, f.lock.IsHeld(lockName("doc-1")), "lock must be released")
}

func TestWorker_HandleJob_PassesOptions(t *testing.T) {
	f := newWorkerFixture(t)
	var got domain.ProcessingOptions
	f.pipeline.processFn = func(id string, opts domain.ProcessingOptions) (*domain.ProcessingResult, error) {
		got = opts
		return &domain.ProcessingResult{DocumentID: id}, nil
	}
	job := f.deliver(t, domain.NewProcessingJob("doc-1", domain.ProcessingModeFast, "gemini"))

	f.worker.HandleJob(context.Background(), job)

	assert.Equal(t, domain.ProcessingOptions{Provider: "gemini", Mode: domain.ProcessingModeFast}, got)
}

func TestWorker_HandleJob_BoundedRetry(t *testing.T) {
	f := newWorkerFixture(t)
	f.pipeline.processFn = func(string, domain.ProcessingOptions) (*domain.ProcessingResult, error) {
		return nil, fmt.Errorf("%w: provider returned 503", domain.ErrUpstream)
	}
	job := f.deliver(t, domain.NewProcessingJob("doc-1", domain.ProcessingModeFull, ""))

	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		outcomes = append(outcomes, f.worker.HandleJob(context.Background(), job))
		if i < 3 {
			jobs, err := f.queue.DequeueBatch(context.Background(), 1, 0)
			require.NoError(t, err)
			require.Len(t, jobs, 1)
			job = jobs[0]
		}
	}

	assert.Equal(t, []Outcome{OutcomeRetried, OutcomeRetried, OutcomeRetried, OutcomeDropped}, outcomes)

	retries := f.queue.Retries()
	require.Len(t, retries, 3)
	assert.Equal(t, 5*time.Second, retries[0].Delay)
	assert.Equal(t, 10*time.Second, retries[1].Delay)
	assert.Equal(t, 20*time.Second, retries[2].Delay)
	for i, r := range retries {
		assert.Equal(t, i+1, r.DeliveryAttempt)
		assert.Contains(t, r.Reason, "provider returned 503")
	}

	assert.Equal(t, []string{job.ID}, f.queue.Acked())
	assert.Zero(t, f.queue.Pending())
	assert.Equal(t, 4, f.pipeline.Calls())

	doc := f.docs.Peek("doc-1")
	assert.Equal(t, domain.ProcessingStatusFailed, doc.ProcessingStatus)
	require.NotNil(t, doc.ProcessingError)
	assert.Contains(t, *doc.ProcessingError, "provider returned 503")
}

func TestWorker_HandleJob_MissingDocument(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.deliver(t, domain.NewProcessingJob("doc-late", domain.ProcessingModeFull, ""))

	assert.Equal(t, OutcomeRetried, f.worker.HandleJob(context.Background(), job), "first delivery races the commit")
	assert.Empty(t, f.queue.Acked())

	jobs, err := f.queue.DequeueBatch(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	job = jobs[0]
	job.DeliveryAttempt = domain.DefaultMaxRetries
	assert.Equal(t, OutcomeDropped, f.worker.HandleJob(context.Background(), job))
	assert.Contains(t, f.queue.Acked(), job.ID)
	assert.Zero(t, f.pipeline.Calls())
}

func TestWorker_HandleJob_MissingDocumentId(t *testing.T) {
	f := newWorkerFixture(t)
	job := f.deliver(t, &domain.ProcessingJob{ID: "job-1", Mode: domain.ProcessingModeFull})

	outcome := f.worker.HandleJob(context.Background(), job)

	assert.Equal(t, OutcomeDropped, outcome)
	assert.Equal(t, []string{"job-1"}, f.queue.Acked())
	assert.Empty(t, f.queue.Retries(), "invalid messages are never retried")
}

func TestWorker_HandleJob_MissingFile(t *testing.T) {
	f := newWorkerFixture(t)
	f.docs.Put(&domain.Document{ID: "doc-2", PatientID: "patient-1", StorageKey: "patients/patient-1/gone.pdf"})
	job := f.deliver(t, domain.NewProcessingJob("doc-2", domain.ProcessingModeFull, ""))

	outcome := f.worker.HandleJob(context.Background(), job)

	assert.Equal(t, OutcomeRetried, outcome)
	assert.Zero(t, f.pipeline.Calls(), "pipeline must not run without the file")
	doc := f.docs.Peek("doc-2")
	assert.Equal(t, domain.ProcessingStatusFailed, doc.ProcessingStatus)
	require.NotNil(t, doc.ProcessingError)
	assert.Contains(t, *doc.ProcessingError, domain.ErrStorage.Error())
}

func TestWorker_HandleJob_FileCheckError(t *testing.T) {
	f := newWorkerFixture(t)
	f.files.ExistsFn = func(string) (bool, error) { return false, errors.New("permission denied") }
	job := f.deliver(t, domain.NewProcessingJob("doc-1", domain.ProcessingModeFull, ""))

	outcome := f.worker.HandleJob(context.Background(), job)

	assert.Equal(t, OutcomeRetried, outcome)
	retries := f.queue.Retries()
	require.Len(t, retries, 1)
	assert.Contains(t, retries[0].Reason, "storage error")
}

func TestWorker_HandleJob_LockedDocument(t *testing.T) {
	f := newWorkerFixture(t)
	f.lock.SetLockHeld(lockName("doc-1"), time.Minute)
	job := f.deliver(t, domain.NewProcessingJob("doc-1", domain.ProcessingModeFull, ""))

	outcome := f.worker.HandleJob(context.Background(), job)

	assert.Equal(t, OutcomeRescheduled, outcome)
	retries := f.queue.Retries()
	require.Len(t, retries, 1)
	assert.Equal(t, 0, retries[0].DeliveryAttempt, "a locked document must not consume an attempt")
	assert.Equal(t, LockedRetryDelay, retries[0].Delay)
	assert.Zero(t, f.pipeline.Calls())
	assert.True(t, f.lock.IsHeld(lockName("doc-1")), "another worker's lock stays held")
}

func TestWorker_HandleJob_LockBackendError(t *testing.T) {
	f := newWorkerFixture(t)
	f.lock.AcquireFn = func(string, time.Duration) (bool, error) { return false, errors.New("redis down") }
	job := f.deliver(t, domain.NewProcessingJob("doc-1", domain.ProcessingModeFull, ""))

	assert.Equal(t, OutcomeRetried, f.worker.HandleJob(context.Background(), job))
	assert.Zero(t, f.pipeline.Calls())
	retries := f.queue.Retries()
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].DeliveryAttempt, "a lock backend error consumes an attempt")
	assert.Contains(t, job.LastError, "redis down")
}

func TestWorker_HandleJob_LockBackendErrorExhaustsRetries(t *testing.T) {
	f := newWorkerFixture(t)
	f.lock.AcquireFn = func(string, time.Duration) (bool, error) { return false, errors.New("redis down") }
	job := domain.NewProcessingJob("doc-1", domain.ProcessingModeFull, "")
	job.DeliveryAttempt = domain.DefaultMaxRetries
	job = f.deliver(t, job)

	assert.Equal(t, OutcomeDropped, f.worker.HandleJob(context.Background(), job))
	assert.Equal(t, []string{job.ID}, f.queue.Acked())
	assert.Empty(t, f.queue.Retries())
	assert.Zero(t, f.pipeline.Calls())
}

func TestWorker_HandleJob_StaleJob(t *testing.T) {
	f := newWorkerFixture(t)
	job := domain.NewProcessingJob("doc-1", domain.ProcessingModeFull, "")
	job.EnqueuedAt = time.Now().Add(-time.Hour)

	doc := f.docs.Peek("doc-1")
	doc.MarkCompleted()
	f.docs.Put(doc)

	job = f.deliver(t, job)
	outcome := f.worker.HandleJob(context.Background(), job)

	assert.Equal(t, OutcomeStale, outcome)
	assert.Equal(t, []string{job.ID}, f.queue.Acked())
	assert.Zero(t, f.pipeline.Calls())
}

func TestWorker_HandleJob_DocumentDeletedMidRun(t *testing.T) {
	f := newWorkerFixture(t)
	f.pipeline.processFn = func(id string, _ domain.ProcessingOptions) (*domain.ProcessingResult, error) {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	saves := f.docs.SaveCount()
	job := f.deliver(t, domain.NewProcessingJob("doc-1", domain.ProcessingModeFull, ""))

	assert.Equal(t, OutcomeRetried, f.worker.HandleJob(context.Background(), job))
	assert.Equal(t, saves, f.docs.SaveCount(), "a not-found run is not marked failed")
}

func TestWorker_StartStop(t *testing.T) {
	f := newWorkerFixture(t)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("doc-%d", i+10)
		key := "patients/patient-1/" + id + ".pdf"
		f.docs.Put(&domain.Document{ID: id, PatientID: "patient-1", StorageKey: key})
		f.files.Put(key, &domain.File{Data: []byte("x")})
		require.NoError(t, f.queue.Enqueue(context.Background(), domain.NewProcessingJob(id, domain.ProcessingModeFast, "")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.worker.Start(ctx))
	require.NoError(t, f.worker.Start(ctx), "second start should be a no-op")

	assert.Eventually(t, func() bool { return len(f.queue.Acked()) == 3 }, 2*time.Second, 10*time.Millisecond)

	f.worker.Stop()
	assert.False(t, f.worker.Health(context.Background()).Running)
	f.worker.Stop() // Should not panic
}

func TestWorker_ContextCancellation(t *testing.T) {
	f := newWorkerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.worker.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		f.worker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
	f.worker.Stop()
}

func TestWorker_StartsSweeper(t *testing.T) {
	f := newWorkerFixture(t)
	sweeper := &mockSweeper{}
	w, err := NewWorker(WorkerConfig{
		Queue:          f.queue,
		Documents:      f.docs,
		Pipeline:       f.pipeline,
		Sweeper:        sweeper,
		DequeueTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	assert.Equal(t, 1, sweeper.starts)
	assert.Equal(t, 1, sweeper.stops)
}

func TestWorker_Health(t *testing.T) {
	f := newWorkerFixture(t)
	require.NoError(t, f.queue.Enqueue(context.Background(), domain.NewProcessingJob("doc-1", "", "")))

	h := f.worker.Health(context.Background())

	assert.False(t, h.Running)
	assert.True(t, h.QueueHealth)
	require.NotNil(t, h.Queue)
	assert.Equal(t, int64(1), h.Queue.PendingJobs)
}

type mockSweeper struct {
	starts, stops int
}

func (m *mockSweeper) Start(ctx context.Context) error { m.starts++; return nil }

func (m *mockSweeper) Stop(ctx context.Context) error { m.stops++; return nil }

func (m *mockSweeper) SweepOnce(ctx context.Context) (int, error) { return 0, nil }
