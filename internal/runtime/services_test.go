package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// mockEmbeddingService is a mock implementation for testing
type mockEmbeddingService struct {
	healthCheckErr error
	closed         bool
}

func (m *mockEmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func (m *mockEmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return nil, nil
}

func (m *mockEmbeddingService) Dimensions() int {
	return 384
}

func (m *mockEmbeddingService) Model() string {
	return "test-model"
}

func (m *mockEmbeddingService) HealthCheck(ctx context.Context) error {
	return m.healthCheckErr
}

func (m *mockEmbeddingService) Close() error {
	m.closed = true
	return nil
}

// mockBackend is a minimal extraction backend for testing
type mockBackend struct {
	id     string
	closed bool
}

func (m *mockBackend) ID() string    { return m.id }
func (m *mockBackend) Model() string { return m.id + "-model" }

func (m *mockBackend) ExtractHighlight(ctx context.Context, file *domain.File) (*driven.Generation, error) {
	return &driven.Generation{}, nil
}

func (m *mockBackend) ExtractStructured(ctx context.Context, file *domain.File, kind domain.DocumentKind) (*driven.Generation, error) {
	return &driven.Generation{}, nil
}

func (m *mockBackend) GenerateContent(ctx context.Context, prompt string) (*driven.Generation, error) {
	return &driven.Generation{}, nil
}

func (m *mockBackend) Close() error {
	m.closed = true
	return nil
}

func TestNewServices(t *testing.T) {
	config := domain.NewRuntimeConfig("redis")
	services := NewServices(config)

	if services == nil {
		t.Fatal("expected non-nil services")
	}
	if services.Config() != config {
		t.Error("expected config to match")
	}
	if NewServices(nil).Config() == nil {
		t.Error("expected default config when nil is passed")
	}
}

func TestServices_EmbeddingService(t *testing.T) {
	config := domain.NewRuntimeConfig("redis")
	services := NewServices(config)

	if services.EmbeddingService() != nil {
		t.Error("expected nil embedding service initially")
	}

	mock := &mockEmbeddingService{}
	services.SetEmbeddingService(mock)

	if services.EmbeddingService() == nil {
		t.Error("expected non-nil embedding service after set")
	}
	if !config.EmbeddingAvailable() {
		t.Error("expected embedding to be available")
	}

	services.SetEmbeddingService(nil)
	if services.EmbeddingService() != nil {
		t.Error("expected nil embedding service after clearing")
	}
	if config.EmbeddingAvailable() {
		t.Error("expected embedding to be unavailable")
	}
	if !mock.closed {
		t.Error("expected old service to be closed")
	}
}

func TestServices_ValidateAndSetEmbedding(t *testing.T) {
	services := NewServices(domain.NewRuntimeConfig("redis"))

	bad := &mockEmbeddingService{healthCheckErr: errors.New("unreachable")}
	if err := services.ValidateAndSetEmbedding(context.Background(), bad); err == nil {
		t.Error("expected health check error")
	}
	if !bad.closed {
		t.Error("expected failing service to be closed")
	}
	if services.EmbeddingService() != nil {
		t.Error("expected failing service not to be set")
	}

	good := &mockEmbeddingService{}
	if err := services.ValidateAndSetEmbedding(context.Background(), good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if services.EmbeddingService() != good {
		t.Error("expected healthy service to be set")
	}
}

func TestServices_RegisterBackend_KeepsOrder(t *testing.T) {
	config := domain.NewRuntimeConfig("redis")
	services := NewServices(config)

	gemini := &mockBackend{id: "gemini"}
	openai := &mockBackend{id: "openai"}
	services.RegisterBackend(gemini)
	services.RegisterBackend(openai)
	services.RegisterBackend(nil)

	backends := services.Backends()
	if len(backends) != 2 || backends[0].ID() != "gemini" || backends[1].ID() != "openai" {
		t.Fatalf("unexpected backends %v", backends)
	}

	replacement := &mockBackend{id: "gemini"}
	services.RegisterBackend(replacement)

	if !gemini.closed {
		t.Error("expected replaced backend to be closed")
	}
	if services.Backend("gemini") != replacement {
		t.Error("expected replacement to be registered")
	}
	if services.Backends()[0].ID() != "gemini" {
		t.Error("expected replacement to keep its position")
	}
	if got := config.Providers(); len(got) != 2 || got[0] != "gemini" {
		t.Errorf("unexpected providers %v", got)
	}
}

func TestServices_RemoveBackend(t *testing.T) {
	services := NewServices(domain.NewRuntimeConfig("redis"))
	openai := &mockBackend{id: "openai"}
	services.RegisterBackend(openai)

	services.RemoveBackend("openai")
	services.RemoveBackend("missing")

	if services.Backend("openai") != nil {
		t.Error("expected backend to be removed")
	}
	if !openai.closed {
		t.Error("expected removed backend to be closed")
	}
	if services.Config().ExtractionAvailable() {
		t.Error("expected no extraction backends")
	}
}

func TestServices_DefaultProvider(t *testing.T) {
	services := NewServices(nil)
	services.SetDefaultProvider("openai")

	if services.DefaultProvider() != "openai" {
		t.Errorf("expected default openai, got %q", services.DefaultProvider())
	}
}

func TestServices_Close(t *testing.T) {
	config := domain.NewRuntimeConfig("redis")
	services := NewServices(config)

	emb := &mockEmbeddingService{}
	backend := &mockBackend{id: "gemini"}
	services.SetEmbeddingService(emb)
	services.RegisterBackend(backend)

	if err := services.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !emb.closed || !backend.closed {
		t.Error("expected all services to be closed")
	}
	if config.EmbeddingAvailable() || config.ExtractionAvailable() {
		t.Error("expected capability flags to be cleared")
	}
}
