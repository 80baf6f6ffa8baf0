package domain

import "time"

// Extraction backend identifiers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ProviderCredentialEnv names the environment variable that configures each backend.
var ProviderCredentialEnv = map[string]string{
	ProviderOpenAI: "OPENAI_API_KEY",
	ProviderGemini: "VERTEX_PROJECT_ID",
}

// ProviderSettings configures one extraction backend.
type ProviderSettings struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	APIKey    string `json:"-"` // Never serialize to JSON
	BaseURL   string `json:"base_url,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Region    string `json:"region,omitempty"`
}

// IsConfigured returns true if the backend's credential is present.
func (s *ProviderSettings) IsConfigured() bool {
	if s == nil {
		return false
	}
	switch s.ID {
	case ProviderOpenAI:
		return s.APIKey != ""
	case ProviderGemini:
		return s.ProjectID != ""
	}
	return false
}

// EmbeddingSettings configures the embedding service used by the indexing stage.
type EmbeddingSettings struct {
	Model   string `json:"model"`
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
}

// IsConfigured returns true if embedding settings are usable.
func (e *EmbeddingSettings) IsConfigured() bool {
	return e != nil && e.APIKey != ""
}

// ProviderTimeouts bounds each kind of provider call.
type ProviderTimeouts struct {
	Highlight  time.Duration
	Structured time.Duration
	Generate   time.Duration
}

// DefaultProviderTimeouts returns the per-call deadlines.
func DefaultProviderTimeouts() ProviderTimeouts {
	return ProviderTimeouts{
		Highlight:  60 * time.Second,
		Structured: 5 * time.Minute,
		Generate:   60 * time.Second,
	}
}
