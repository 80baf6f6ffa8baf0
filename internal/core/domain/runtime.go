package domain

import "sync"

// RuntimeConfig tracks which services are available at runtime.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	QueueBackend string // "redis", "postgres" or "pubsub"

	embeddingAvailable bool
	providers          []string
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(queueBackend string) *RuntimeConfig {
	return &RuntimeConfig{
		QueueBackend: queueBackend,
	}
}

// EmbeddingAvailable returns whether the embedding service is available
func (c *RuntimeConfig) EmbeddingAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddingAvailable
}

// SetEmbeddingAvailable updates the embedding availability flag
func (c *RuntimeConfig) SetEmbeddingAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddingAvailable = available
}

// SetProviders records the registered extraction backends in registration order
func (c *RuntimeConfig) SetProviders(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append([]string(nil), ids...)
}

// Providers returns the registered extraction backends
func (c *RuntimeConfig) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.providers...)
}

// ExtractionAvailable returns true if at least one extraction backend is registered
func (c *RuntimeConfig) ExtractionAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.providers) > 0
}
