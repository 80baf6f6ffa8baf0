package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Ensure GeminiBackend implements ExtractionBackend
var _ driven.ExtractionBackend = (*GeminiBackend)(nil)

const (
	// DefaultGeminiModel is used when no model is configured.
	DefaultGeminiModel = "gemini-1.5-pro"

	// DefaultVertexRegion is used when no region is configured.
	DefaultVertexRegion = "us-central1"
)

// contentGenerator is the subset of *genai.GenerativeModel the backend calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiBackend implements ExtractionBackend on Gemini through Vertex AI.
// Files of any supported MIME type are sent inline as blobs.
type GeminiBackend struct {
	client *genai.Client
	model  string

	text       contentGenerator
	structured contentGenerator

	logger *slog.Logger
}

// NewGeminiBackend creates a backend from settings using application default credentials.
func NewGeminiBackend(ctx context.Context, settings *domain.ProviderSettings) (*GeminiBackend, error) {
	if settings == nil || settings.ProjectID == "" {
		return nil, fmt.Errorf("%w: VERTEX_PROJECT_ID is required", domain.ErrConfiguration)
	}
	region := settings.Region
	if region == "" {
		region = DefaultVertexRegion
	}
	model := settings.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, settings.ProjectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	instruction := &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}

	text := client.GenerativeModel(model)
	text.SystemInstruction = instruction
	text.SetTemperature(0.2)

	structured := client.GenerativeModel(model)
	structured.SystemInstruction = instruction
	structured.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	b := newGeminiBackend(text, structured, model)
	b.client = client
	return b, nil
}

func newGeminiBackend(text, structured contentGenerator, model string) *GeminiBackend {
	return &GeminiBackend{
		model:      model,
		text:       text,
		structured: structured,
		logger:     slog.Default().With("component", "gemini-backend"),
	}
}

// ID returns the backend identifier
func (b *GeminiBackend) ID() string { return domain.ProviderGemini }

// Model returns the Gemini model name
func (b *GeminiBackend) Model() string { return b.model }

// ExtractHighlight returns a short summary of the file
func (b *GeminiBackend) ExtractHighlight(ctx context.Context, file *domain.File) (*driven.Generation, error) {
	blob, err := fileBlob(file)
	if err != nil {
		return nil, err
	}
	return b.generate(ctx, b.text, blob, genai.Text(highlightPrompt))
}

// ExtractStructured returns the raw JSON extraction for the file
func (b *GeminiBackend) ExtractStructured(ctx context.Context, file *domain.File, kind domain.DocumentKind) (*driven.Generation, error) {
	blob, err := fileBlob(file)
	if err != nil {
		return nil, err
	}
	return b.generate(ctx, b.structured, blob, genai.Text(StructuredPrompt(kind)))
}

// GenerateContent runs a free-form text prompt
func (b *GeminiBackend) GenerateContent(ctx context.Context, prompt string) (*driven.Generation, error) {
	return b.generate(ctx, b.text, genai.Text(prompt))
}

// Close releases the Vertex client
func (b *GeminiBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *GeminiBackend) generate(ctx context.Context, gen contentGenerator, parts ...genai.Part) (*driven.Generation, error) {
	resp, err := gen.GenerateContent(ctx, parts...)
	if err != nil {
		b.logger.Error("generate content failed", "model", b.model, "error", err)
		return nil, upstreamError(domain.ProviderGemini, err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("%w: gemini returned no text", domain.ErrUpstream)
	}

	var usage domain.TokenUsage
	if m := resp.UsageMetadata; m != nil {
		usage = domain.TokenUsage{
			Prompt:     int(m.PromptTokenCount),
			Completion: int(m.CandidatesTokenCount),
			Total:      int(m.TotalTokenCount),
		}
	}

	return &driven.Generation{Text: text, Usage: usage, Model: b.model}, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}

func fileBlob(file *domain.File) (genai.Blob, error) {
	if file == nil || len(file.Data) == 0 {
		return genai.Blob{}, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	return genai.Blob{MIMEType: mimeType, Data: file.Data}, nil
}
