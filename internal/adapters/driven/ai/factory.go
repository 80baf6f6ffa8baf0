package ai

import (
	"context"
	"fmt"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Ensure Factory implements AIServiceFactory
var _ driven.AIServiceFactory = (*Factory)(nil)

// Factory creates AI services based on configuration
type Factory struct{}

// NewFactory creates a new AI service factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateExtractionBackend creates an extraction backend from settings
func (f *Factory) CreateExtractionBackend(settings *domain.ProviderSettings) (driven.ExtractionBackend, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.ID {
	case domain.ProviderOpenAI:
		b, err := NewOpenAIBackend(settings)
		if err != nil {
			return nil, err
		}
		return b, nil
	case domain.ProviderGemini:
		// Client construction only resolves credentials; calls carry their own context.
		b, err := NewGeminiBackend(context.Background(), settings)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrConfiguration, settings.ID)
	}
}

// CreateEmbeddingService creates an embedding service from settings
func (f *Factory) CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}
	svc, err := NewEmbedding(settings)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
