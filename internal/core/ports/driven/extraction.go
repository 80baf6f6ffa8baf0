package driven

import (
	"context"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// Generation is the raw text result of one provider call.
type Generation struct {
	Text  string
	Usage domain.TokenUsage
	Model string
}

// ExtractionBackend is one AI provider able to read clinical documents.
// Callers bound each call with a context deadline.
type ExtractionBackend interface {
	// ID returns the backend identifier (e.g. "openai", "gemini")
	ID() string

	// Model returns the model name used for extraction
	Model() string

	// ExtractHighlight returns a short human-readable summary of the file
	ExtractHighlight(ctx context.Context, file *domain.File) (*Generation, error)

	// ExtractStructured returns the raw structured-extraction response for the file.
	// The text is expected to be JSON but is not parsed here.
	ExtractStructured(ctx context.Context, file *domain.File, kind domain.DocumentKind) (*Generation, error)

	// GenerateContent runs a free-form text prompt
	GenerateContent(ctx context.Context, prompt string) (*Generation, error)

	// Close releases resources held by the backend
	Close() error
}
