package driving

import (
	"context"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// PipelineService runs the enrichment pipeline for one document
type PipelineService interface {
	// Process runs the pipeline synchronously and returns the trigger result.
	// On a fatal error the document is left failed and the error is returned.
	Process(ctx context.Context, documentID string, opts domain.ProcessingOptions) (*domain.ProcessingResult, error)
}

// Sweeper re-enqueues documents stuck in processing
type Sweeper interface {
	// Start begins periodic sweeping
	Start(ctx context.Context) error

	// Stop stops the sweeper
	Stop(ctx context.Context) error

	// SweepOnce runs a single sweep and returns the number of documents re-enqueued
	SweepOnce(ctx context.Context) (int, error)
}
