package runtime

import (
	"context"
	"sync"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Services holds references to the configured AI services.
// Extraction backends keep their registration order, which drives fallback.
// Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	// Config tracks capability flags
	config *domain.RuntimeConfig

	embeddingService driven.EmbeddingService
	backends         []driven.ExtractionBackend
	defaultProvider  string
}

// NewServices creates a new Services registry
func NewServices(config *domain.RuntimeConfig) *Services {
	if config == nil {
		config = domain.NewRuntimeConfig("")
	}
	return &Services{
		config: config,
	}
}

// Config returns the runtime configuration
func (s *Services) Config() *domain.RuntimeConfig {
	return s.config
}

// EmbeddingService returns the current embedding service (may be nil)
func (s *Services) EmbeddingService() driven.EmbeddingService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embeddingService
}

// SetEmbeddingService updates the embedding service.
// Closes the old service if present. Updates config flags.
func (s *Services) SetEmbeddingService(svc driven.EmbeddingService) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingService != nil && s.embeddingService != svc {
		_ = s.embeddingService.Close()
	}

	s.embeddingService = svc
	s.config.SetEmbeddingAvailable(svc != nil)
}

// ValidateAndSetEmbedding validates connectivity before setting embedding service
func (s *Services) ValidateAndSetEmbedding(ctx context.Context, svc driven.EmbeddingService) error {
	if svc == nil {
		s.SetEmbeddingService(nil)
		return nil
	}

	if err := svc.HealthCheck(ctx); err != nil {
		_ = svc.Close()
		return err
	}

	s.SetEmbeddingService(svc)
	return nil
}

// RegisterBackend adds an extraction backend. A backend with the same ID is
// replaced in place (the old one is closed) and keeps its position.
func (s *Services) RegisterBackend(b driven.ExtractionBackend) {
	if b == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.backends {
		if existing.ID() == b.ID() {
			if existing != b {
				_ = existing.Close()
			}
			s.backends[i] = b
			s.syncProviders()
			return
		}
	}
	s.backends = append(s.backends, b)
	s.syncProviders()
}

// RemoveBackend unregisters and closes a backend.
func (s *Services) RemoveBackend(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.backends {
		if b.ID() == id {
			_ = b.Close()
			s.backends = append(s.backends[:i], s.backends[i+1:]...)
			break
		}
	}
	s.syncProviders()
}

// Backend returns the backend registered under id, or nil.
func (s *Services) Backend(id string) driven.ExtractionBackend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.backends {
		if b.ID() == id {
			return b
		}
	}
	return nil
}

// Backends returns the registered backends in registration order.
func (s *Services) Backends() []driven.ExtractionBackend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]driven.ExtractionBackend(nil), s.backends...)
}

// SetDefaultProvider sets the backend used when a caller does not request one.
// The ID does not need to be registered.
func (s *Services) SetDefaultProvider(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultProvider = id
}

// DefaultProvider returns the configured default backend ID.
func (s *Services) DefaultProvider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultProvider
}

func (s *Services) syncProviders() {
	ids := make([]string, len(s.backends))
	for i, b := range s.backends {
		ids[i] = b.ID()
	}
	s.config.SetProviders(ids)
}

// Close shuts down all services
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingService != nil {
		_ = s.embeddingService.Close()
		s.embeddingService = nil
	}
	for _, b := range s.backends {
		_ = b.Close()
	}
	s.backends = nil

	s.config.SetEmbeddingAvailable(false)
	s.config.SetProviders(nil)

	return nil
}
