package ai

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (g *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	g.parts = parts
	return g.resp, g.err
}

func geminiAnswer(texts ...string) *genai.GenerateContentResponse {
	parts := make([]genai.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, genai.Text(t))
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
		UsageMetadata: &genai.UsageMetadata{
			PromptTokenCount:     800,
			CandidatesTokenCount: 200,
			TotalTokenCount:      1000,
		},
	}
}

func TestNewGeminiBackend_RequiresProject(t *testing.T) {
	_, err := NewGeminiBackend(context.Background(), &domain.ProviderSettings{ID: domain.ProviderGemini})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestGeminiBackend_ExtractStructured(t *testing.T) {
	text := &fakeGenerator{}
	structured := &fakeGenerator{resp: geminiAnswer(`{"summary":`, `"stage IIA"}`)}
	b := newGeminiBackend(text, structured, "gemini-1.5-pro")

	gen, err := b.ExtractStructured(context.Background(), &domain.File{
		Name: "report.pdf",
		Data: []byte("%PDF-1.7"),
	}, domain.DocumentKindPathology)
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"stage IIA"}`, gen.Text)
	assert.Equal(t, domain.TokenUsage{Prompt: 800, Completion: 200, Total: 1000}, gen.Usage)
	assert.Equal(t, "gemini-1.5-pro", gen.Model)

	require.Len(t, structured.parts, 2)
	blob, ok := structured.parts[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", blob.MIMEType)
	assert.Nil(t, text.parts, "structured calls use the JSON model")
}

func TestGeminiBackend_ExtractHighlight(t *testing.T) {
	text := &fakeGenerator{resp: geminiAnswer("CT chest shows a stable 1.2 cm nodule.")}
	b := newGeminiBackend(text, &fakeGenerator{}, "gemini-1.5-pro")

	gen, err := b.ExtractHighlight(context.Background(), &domain.File{
		Name:     "ct.txt",
		MimeType: "text/plain",
		Data:     []byte("CT chest"),
	})
	require.NoError(t, err)
	assert.Equal(t, "CT chest shows a stable 1.2 cm nodule.", gen.Text)
}

func TestGeminiBackend_EmptyResponse(t *testing.T) {
	b := newGeminiBackend(&fakeGenerator{resp: &genai.GenerateContentResponse{}}, &fakeGenerator{}, "gemini-1.5-pro")

	_, err := b.GenerateContent(context.Background(), "summarise")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestGeminiBackend_UpstreamError(t *testing.T) {
	b := newGeminiBackend(&fakeGenerator{err: errors.New("quota exceeded")}, &fakeGenerator{}, "gemini-1.5-pro")

	_, err := b.GenerateContent(context.Background(), "summarise")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestGeminiBackend_EmptyFile(t *testing.T) {
	b := newGeminiBackend(&fakeGenerator{}, &fakeGenerator{}, "gemini-1.5-pro")

	_, err := b.ExtractHighlight(context.Background(), &domain.File{Name: "x.pdf"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.NoError(t, b.Close())
}
