package mocks

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// MockEmbeddingService returns deterministic vectors derived from the text.
type MockEmbeddingService struct {
	mu         sync.Mutex
	dimensions int
	model      string
	failNext   bool
	batches    int
	texts      int
}

func NewMockEmbeddingService() *MockEmbeddingService {
	return &MockEmbeddingService{
		dimensions: 8,
		model:      "mock-embedding",
	}
}

func (m *MockEmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	m.texts += len(texts)
	return out, nil
}

func (m *MockEmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	return m.vector(query), nil
}

func (m *MockEmbeddingService) Dimensions() int { return m.dimensions }

func (m *MockEmbeddingService) Model() string { return m.model }

func (m *MockEmbeddingService) HealthCheck(ctx context.Context) error { return nil }

func (m *MockEmbeddingService) Close() error { return nil }

func (m *MockEmbeddingService) takeFailure() error {
	if !m.failNext {
		return nil
	}
	m.failNext = false
	return fmt.Errorf("%w: mock embedding failure", domain.ErrUpstream)
}

// vector seeds a linear congruential sequence from the FNV hash of text.
func (m *MockEmbeddingService) vector(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()

	v := make([]float32, m.dimensions)
	for i := range v {
		seed = seed*1103515245 + 12345
		v[i] = float32(seed%1000) / 1000.0
	}
	return v
}

// SetFailNext makes the next Embed or EmbedQuery call fail with ErrUpstream.
func (m *MockEmbeddingService) SetFailNext(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = fail
}

// Batches returns how many Embed calls were made.
func (m *MockEmbeddingService) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

// Texts returns how many texts were embedded successfully.
func (m *MockEmbeddingService) Texts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

func (m *MockEmbeddingService) SetDimensions(dim int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = dim
}
