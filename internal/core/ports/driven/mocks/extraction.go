package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// MockExtractionBackend is a scripted ExtractionBackend for testing
type MockExtractionBackend struct {
	mu    sync.Mutex
	id    string
	model string
	calls map[string]int

	Highlight  string
	Structured string
	Generated  string
	Usage      domain.TokenUsage

	HighlightFn  func(ctx context.Context, file *domain.File) (*driven.Generation, error)
	StructuredFn func(ctx context.Context, file *domain.File, kind domain.DocumentKind) (*driven.Generation, error)
	GenerateFn   func(ctx context.Context, prompt string) (*driven.Generation, error)
}

// NewMockExtractionBackend creates a backend with the given ID
func NewMockExtractionBackend(id string) *MockExtractionBackend {
	return &MockExtractionBackend{
		id:        id,
		model:     id + "-mock-model",
		calls:     make(map[string]int),
		Highlight: "Mock highlight.",
		Generated: "[]",
		Usage:     domain.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	}
}

func (m *MockExtractionBackend) ID() string    { return m.id }
func (m *MockExtractionBackend) Model() string { return m.model }

func (m *MockExtractionBackend) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
}

func (m *MockExtractionBackend) gen(text string) *driven.Generation {
	return &driven.Generation{Text: text, Usage: m.Usage, Model: m.model}
}

func (m *MockExtractionBackend) ExtractHighlight(ctx context.Context, file *domain.File) (*driven.Generation, error) {
	m.record("highlight")
	if m.HighlightFn != nil {
		return m.HighlightFn(ctx, file)
	}
	return m.gen(m.Highlight), nil
}

func (m *MockExtractionBackend) ExtractStructured(ctx context.Context, file *domain.File, kind domain.DocumentKind) (*driven.Generation, error) {
	m.record("structured")
	if m.StructuredFn != nil {
		return m.StructuredFn(ctx, file, kind)
	}
	return m.gen(m.Structured), nil
}

func (m *MockExtractionBackend) GenerateContent(ctx context.Context, prompt string) (*driven.Generation, error) {
	m.record("generate")
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, prompt)
	}
	return m.gen(m.Generated), nil
}

func (m *MockExtractionBackend) Close() error { return nil }

// Calls returns how many times a capability was invoked ("highlight", "structured", "generate").
func (m *MockExtractionBackend) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}
