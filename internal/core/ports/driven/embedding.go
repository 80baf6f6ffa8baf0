package driven

import (
	"context"
)

// EmbeddingService turns chunk text into vectors for the index
type EmbeddingService interface {
	// Embed returns one vector per text, in order
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single retrieval query
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// Dimensions returns the vector length the model produces
	Dimensions() int

	// Model returns the embedding model name
	Model() string

	// HealthCheck makes a minimal call to confirm credentials and reachability
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the service
	Close() error
}
