package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.DocumentService = (*documentService)(nil)

// maxBatchDocuments caps how many documents one intake may enqueue.
const maxBatchDocuments = 500

// documentService implements driving.DocumentService
type documentService struct {
	documents driven.DocumentStore
	files     driven.FileStore
	queue     driven.JobQueue
	indexer   *Indexer
	timeline  driven.TimelineStore
	retries   int
	logger    *slog.Logger
}

// DocumentServiceConfig holds dependencies for the document service.
type DocumentServiceConfig struct {
	Documents  driven.DocumentStore
	Files      driven.FileStore
	Queue      driven.JobQueue
	Indexer    *Indexer             // Optional: vector entries are purged on delete
	Timeline   driven.TimelineStore // Optional: timeline events are purged on delete
	MaxRetries int                  // Retries per job (default domain.DefaultMaxRetries)
	Logger     *slog.Logger
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(cfg DocumentServiceConfig) driving.DocumentService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = domain.DefaultMaxRetries
	}
	return &documentService{
		retries:   retries,
		documents: cfg.Documents,
		files:     cfg.Files,
		queue:     cfg.Queue,
		indexer:   cfg.Indexer,
		timeline:  cfg.Timeline,
		logger:    logger,
	}
}

// Get retrieves a document by ID
func (s *documentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	return s.documents.Get(ctx, id)
}

// EnqueueProcessing creates one job per document sharing a batch ID.
// Every document must exist; nothing is enqueued otherwise.
func (s *documentService) EnqueueProcessing(ctx context.Context, documentIDs []string, opts domain.ProcessingOptions) ([]*domain.ProcessingJob, error) {
	if err := domain.Validate(opts); err != nil {
		return nil, err
	}

	ids := dedupe(documentIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one document id is required", domain.ErrInvalidInput)
	}
	if len(ids) > maxBatchDocuments {
		return nil, fmt.Errorf("%w: %d documents exceeds batch limit of %d", domain.ErrInvalidInput, len(ids), maxBatchDocuments)
	}

	var missing []string
	for _, id := range ids {
		if _, err := s.documents.Get(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				missing = append(missing, id)
				continue
			}
			return nil, err
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: documents %s", domain.ErrNotFound, strings.Join(missing, ", "))
	}

	batchID := domain.GenerateID()
	jobs := make([]*domain.ProcessingJob, len(ids))
	for i, id := range ids {
		job := domain.NewProcessingJob(id, opts.Mode, opts.Provider)
		job.BatchID = batchID
		job.MaxRetries = s.retries
		jobs[i] = job
	}

	if err := s.queue.EnqueueBatch(ctx, jobs); err != nil {
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}

	s.logger.Info("processing batch enqueued",
		"batch_id", batchID,
		"documents", len(jobs),
		"mode", jobs[0].Mode,
	)
	return jobs, nil
}

// Delete removes a document and everything derived from it.
// Vector entries and timeline events are purged before the row.
func (s *documentService) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.indexer != nil {
		if err := s.indexer.Purge(ctx, id); err != nil {
			return fmt.Errorf("purge vectors: %w", err)
		}
	}
	if s.timeline != nil {
		if err := s.timeline.DeleteByDocument(ctx, id); err != nil {
			return fmt.Errorf("purge timeline: %w", err)
		}
	}
	if err := s.documents.Delete(ctx, id); err != nil {
		return err
	}

	if doc.StorageKey != "" && s.files != nil {
		if err := s.files.Delete(ctx, doc.StorageKey); err != nil {
			// The row is gone; an orphaned object is only logged.
			s.logger.Warn("failed to delete stored file",
				"document_id", id,
				"storage_key", doc.StorageKey,
				"error", err,
			)
		}
	}

	s.logger.Info("document deleted", "document_id", id, "patient_id", doc.PatientID)
	return nil
}

// dedupe drops blanks and repeats, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
