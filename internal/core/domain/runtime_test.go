package domain

import "testing"

func TestRuntimeConfig(t *testing.T) {
	cfg := NewRuntimeConfig("redis")

	if cfg.QueueBackend != "redis" {
		t.Errorf("expected queue backend redis, got %s", cfg.QueueBackend)
	}
	if cfg.EmbeddingAvailable() {
		t.Error("expected embedding unavailable by default")
	}
	if cfg.ExtractionAvailable() {
		t.Error("expected extraction unavailable by default")
	}

	cfg.SetEmbeddingAvailable(true)
	ids := []string{"gemini", "openai"}
	cfg.SetProviders(ids)
	ids[0] = "mutated"

	if !cfg.EmbeddingAvailable() {
		t.Error("expected embedding available")
	}
	if got := cfg.Providers(); len(got) != 2 || got[0] != "gemini" {
		t.Errorf("unexpected providers %v", got)
	}
	if !cfg.ExtractionAvailable() {
		t.Error("expected extraction available")
	}
}
