package driven

import (
	"context"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// VectorIndex stores chunk embeddings for semantic retrieval
type VectorIndex interface {
	// Upsert writes chunks, replacing any with the same ID
	Upsert(ctx context.Context, chunks []*domain.Chunk) error

	// Query returns the closest chunks to the query embedding
	Query(ctx context.Context, q domain.VectorQuery) ([]*domain.RankedChunk, error)

	// DeleteByDocument removes every chunk of a document
	DeleteByDocument(ctx context.Context, documentID string) error

	// HealthCheck verifies the index is reachable
	HealthCheck(ctx context.Context) error
}
