package driving

import (
	"context"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// DocumentService manages document intake and removal
type DocumentService interface {
	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// EnqueueProcessing creates one tracked job per document and enqueues them as a batch
	EnqueueProcessing(ctx context.Context, documentIDs []string, opts domain.ProcessingOptions) ([]*domain.ProcessingJob, error)

	// Delete removes a document with its vector entries, timeline events and stored file
	Delete(ctx context.Context, id string) error
}
