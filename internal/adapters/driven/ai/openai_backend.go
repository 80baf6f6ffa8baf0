package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Ensure OpenAIBackend implements ExtractionBackend
var _ driven.ExtractionBackend = (*OpenAIBackend)(nil)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIBackend implements ExtractionBackend on an OpenAI-compatible chat API.
// Images are sent inline; text documents are sent as text. Other file
// types cannot be attached through the chat API and are rejected.
type OpenAIBackend struct {
	client llms.Model
	model  string
	logger *slog.Logger
}

// NewOpenAIBackend creates a backend from settings.
func NewOpenAIBackend(settings *domain.ProviderSettings) (*OpenAIBackend, error) {
	if settings == nil || settings.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", domain.ErrConfiguration)
	}
	model := settings.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithToken(settings.APIKey),
		openai.WithModel(model),
	}
	if settings.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(settings.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return newOpenAIBackend(client, model), nil
}

func newOpenAIBackend(client llms.Model, model string) *OpenAIBackend {
	return &OpenAIBackend{
		client: client,
		model:  model,
		logger: slog.Default().With("component", "openai-backend"),
	}
}

// ID returns the backend identifier
func (b *OpenAIBackend) ID() string { return domain.ProviderOpenAI }

// Model returns the chat model name
func (b *OpenAIBackend) Model() string { return b.model }

// ExtractHighlight returns a short summary of the file
func (b *OpenAIBackend) ExtractHighlight(ctx context.Context, file *domain.File) (*driven.Generation, error) {
	part, err := filePart(file)
	if err != nil {
		return nil, err
	}
	return b.generate(ctx, []llms.ContentPart{part, llms.TextPart(highlightPrompt)}, llms.WithTemperature(0.2))
}

// ExtractStructured returns the raw JSON extraction for the file
func (b *OpenAIBackend) ExtractStructured(ctx context.Context, file *domain.File, kind domain.DocumentKind) (*driven.Generation, error) {
	part, err := filePart(file)
	if err != nil {
		return nil, err
	}
	return b.generate(ctx,
		[]llms.ContentPart{part, llms.TextPart(StructuredPrompt(kind))},
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
}

// GenerateContent runs a free-form text prompt
func (b *OpenAIBackend) GenerateContent(ctx context.Context, prompt string) (*driven.Generation, error) {
	return b.generate(ctx, []llms.ContentPart{llms.TextPart(prompt)}, llms.WithTemperature(0))
}

// Close is a no-op; the HTTP client holds no resources
func (b *OpenAIBackend) Close() error {
	return nil
}

func (b *OpenAIBackend) generate(ctx context.Context, parts []llms.ContentPart, opts ...llms.CallOption) (*driven.Generation, error) {
	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(systemInstruction)}},
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}

	resp, err := b.client.GenerateContent(ctx, messages, opts...)
	if err != nil {
		b.logger.Error("generate content failed", "model", b.model, "error", err)
		return nil, upstreamError(domain.ProviderOpenAI, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", domain.ErrUpstream)
	}

	choice := resp.Choices[0]
	return &driven.Generation{
		Text:  strings.TrimSpace(choice.Content),
		Usage: usageFromInfo(choice.GenerationInfo),
		Model: b.model,
	}, nil
}

// filePart converts a document into a chat content part.
func filePart(file *domain.File) (llms.ContentPart, error) {
	if file == nil || len(file.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}
	mimeType := strings.ToLower(file.MimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return llms.BinaryPart(mimeType, file.Data), nil
	case strings.HasPrefix(mimeType, "text/"), mimeType == "application/json":
		return llms.TextPart("Document " + file.Name + ":\n\n" + string(file.Data)), nil
	}
	return nil, fmt.Errorf("%w: openai backend cannot read %s files; use the gemini provider", domain.ErrInvalidInput, file.MimeType)
}

// usageFromInfo reads token counts from langchaingo generation info.
func usageFromInfo(info map[string]any) domain.TokenUsage {
	u := domain.TokenUsage{
		Prompt:     intFromInfo(info, "PromptTokens"),
		Completion: intFromInfo(info, "CompletionTokens"),
		Total:      intFromInfo(info, "TotalTokens"),
	}
	if u.Total == 0 {
		u.Total = u.Prompt + u.Completion
	}
	return u
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// upstreamError classifies a provider failure; deadlines are upstream failures too.
func upstreamError(provider string, err error) error {
	if errors.Is(err, domain.ErrUpstream) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s call timed out: %v", domain.ErrUpstream, provider, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstream, provider, err)
}
