package driven

import (
	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// AIServiceFactory builds provider clients from settings at startup
type AIServiceFactory interface {
	// CreateExtractionBackend returns nil, nil when the provider's credential is absent
	CreateExtractionBackend(settings *domain.ProviderSettings) (ExtractionBackend, error)

	// CreateEmbeddingService returns nil, nil when no embedding key is configured
	CreateEmbeddingService(settings *domain.EmbeddingSettings) (EmbeddingService, error)
}
