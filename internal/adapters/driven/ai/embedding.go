package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Ensure Embedding implements EmbeddingService
var _ driven.EmbeddingService = (*Embedding)(nil)

// DefaultEmbeddingModel is used when no model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Model dimensions for OpenAI embedding models
var embeddingModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Embedding implements EmbeddingService on an OpenAI-compatible embeddings API
type Embedding struct {
	embedder   embeddings.Embedder
	model      string
	dimensions int
	logger     *slog.Logger
}

// NewEmbedding creates an embedding service from settings
func NewEmbedding(settings *domain.EmbeddingSettings) (*Embedding, error) {
	if settings == nil || settings.APIKey == "" {
		return nil, fmt.Errorf("%w: embedding API key is required", domain.ErrConfiguration)
	}
	model := settings.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	opts := []openai.Option{
		openai.WithToken(settings.APIKey),
		openai.WithEmbeddingModel(model),
	}
	if settings.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(settings.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return newEmbedding(client, model)
}

func newEmbedding(client embeddings.EmbedderClient, model string) (*Embedding, error) {
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(128),
	)
	if err != nil {
		return nil, err
	}

	dimensions, ok := embeddingModelDimensions[model]
	if !ok {
		// Default to 1536 for unknown models
		dimensions = 1536
	}

	return &Embedding{
		embedder:   embedder,
		model:      model,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "embedding"),
	}, nil
}

// Embed generates embeddings for multiple texts
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.logger.Debug("generating embeddings", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, upstreamError("embeddings", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", domain.ErrUpstream, len(texts), len(vectors))
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a search query
func (e *Embedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, upstreamError("embeddings", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned for query", domain.ErrUpstream)
	}
	return vector, nil
}

// Dimensions returns the embedding dimension size
func (e *Embedding) Dimensions() int {
	return e.dimensions
}

// Model returns the model name being used
func (e *Embedding) Model() string {
	return e.model
}

// HealthCheck verifies the embedding service is available
func (e *Embedding) HealthCheck(ctx context.Context) error {
	_, err := e.EmbedQuery(ctx, "health check")
	return err
}

// Close releases resources held by the embedding service
func (e *Embedding) Close() error {
	return nil
}
