package domain

import (
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// ProcessingMode selects which pipeline stages run for a document.
type ProcessingMode string

const (
	// ProcessingModeFast runs highlight extraction and indexing only
	ProcessingModeFast ProcessingMode = "fast"
	// ProcessingModeFull runs every stage
	ProcessingModeFull ProcessingMode = "full"
	// ProcessingModeIncremental reuses an existing highlight, otherwise like full
	ProcessingModeIncremental ProcessingMode = "incremental"
)

// IsValid reports whether m is a known mode.
func (m ProcessingMode) IsValid() bool {
	switch m {
	case ProcessingModeFast, ProcessingModeFull, ProcessingModeIncremental:
		return true
	}
	return false
}

// Retry policy for processing jobs.
const (
	DefaultMaxRetries = 3
	RetryBaseDelay    = 5 * time.Second
	RetryMaxDelay     = 60 * time.Second
)

// ProcessingJob is the queue message instructing the pipeline to process one document.
// Delivery is at-least-once.
type ProcessingJob struct {
	// ID is the unique identifier for this job
	ID string `json:"id"`

	// DocumentID is the document to process
	DocumentID string `json:"documentId" validate:"required"`

	// Mode selects the pipeline stages
	Mode ProcessingMode `json:"mode" validate:"omitempty,oneof=fast full incremental"`

	// Provider optionally pins the AI backend
	Provider string `json:"provider,omitempty"`

	// DeliveryAttempt counts previous failed deliveries, starting at 0
	DeliveryAttempt int `json:"deliveryAttempt" validate:"gte=0"`

	// MaxRetries is how many failed deliveries are retried before the job is dropped
	MaxRetries int `json:"maxRetries,omitempty"`

	// BatchID groups jobs enqueued together by one intake
	BatchID string `json:"batchId,omitempty"`

	// LastError contains the error from the previous delivery
	LastError string `json:"lastError,omitempty"`

	// EnqueuedAt is when the job was first created
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// ScheduledFor is when the job becomes visible to workers
	ScheduledFor time.Time `json:"scheduledFor"`
}

// NewProcessingJob creates a job with default values.
func NewProcessingJob(documentID string, mode ProcessingMode, provider string) *ProcessingJob {
	if mode == "" {
		mode = ProcessingModeFull
	}
	now := time.Now()
	return &ProcessingJob{
		ID:           GenerateID(),
		DocumentID:   documentID,
		Mode:         mode,
		Provider:     provider,
		MaxRetries:   DefaultMaxRetries,
		EnqueuedAt:   now,
		ScheduledFor: now,
	}
}

// CanRetry returns true if a failure on the current delivery may be retried.
func (j *ProcessingJob) CanRetry() bool {
	max := j.MaxRetries
	if max <= 0 {
		max = DefaultMaxRetries
	}
	return j.DeliveryAttempt < max
}

// IsReady returns true if the job is due.
func (j *ProcessingJob) IsReady() bool {
	return !time.Now().Before(j.ScheduledFor)
}

// Retry advances the delivery counter and schedules the next attempt.
// It returns the delay applied.
func (j *ProcessingJob) Retry(reason string) time.Duration {
	delay := Backoff(j.DeliveryAttempt)
	j.DeliveryAttempt++
	j.LastError = reason
	j.ScheduledFor = time.Now().Add(delay)
	return delay
}

// Reschedule delays the job without consuming an attempt.
func (j *ProcessingJob) Reschedule(delay time.Duration) {
	j.ScheduledFor = time.Now().Add(delay)
}

// Backoff returns the delay after a failed delivery: 5s, 10s, 20s, 40s, capped at 60s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 4 {
		return RetryMaxDelay
	}
	d := RetryBaseDelay << attempt
	if d > RetryMaxDelay {
		d = RetryMaxDelay
	}
	return d
}

// IsStaleFor reports whether the job predates the document's last completion.
func (j *ProcessingJob) IsStaleFor(doc *Document) bool {
	if doc == nil || doc.CompletedAt == nil || doc.ProcessingStatus != ProcessingStatusCompleted {
		return false
	}
	return j.EnqueuedAt.Before(*doc.CompletedAt)
}

// ProcessingOptions are caller-supplied options for a pipeline run.
type ProcessingOptions struct {
	Provider string         `json:"provider,omitempty"`
	Mode     ProcessingMode `json:"mode,omitempty" validate:"omitempty,oneof=fast full incremental"`
}

// ProcessingResult is the synchronous trigger contract.
type ProcessingResult struct {
	DocumentID       string          `json:"documentId"`
	ExtractedData    *ExtractedData  `json:"extractedData"`
	MedicalHighlight string          `json:"medicalHighlight"`
	TokensUsed       TokenUsage      `json:"tokensUsed"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	VectorizeStatus  VectorizeStatus `json:"vectorizeStatus"`
	Sync             []SyncResult    `json:"sync,omitempty"`
}

// QueueStats contains statistics about the job queue.
type QueueStats struct {
	PendingJobs    int64 `json:"pending_jobs"`
	ProcessingJobs int64 `json:"processing_jobs"`
	DelayedJobs    int64 `json:"delayed_jobs"`
}
