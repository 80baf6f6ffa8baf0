package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/runtime"
)

// ProviderGateway selects an extraction backend and bounds every call with a deadline.
type ProviderGateway struct {
	services *runtime.Services
	timeouts domain.ProviderTimeouts
	logger   *slog.Logger
}

// ProviderGatewayConfig holds dependencies for ProviderGateway.
type ProviderGatewayConfig struct {
	Services *runtime.Services
	Timeouts domain.ProviderTimeouts // zero fields fall back to DefaultProviderTimeouts
	Logger   *slog.Logger
}

// NewProviderGateway creates a new provider gateway.
func NewProviderGateway(cfg ProviderGatewayConfig) *ProviderGateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeouts := domain.DefaultProviderTimeouts()
	if cfg.Timeouts.Highlight > 0 {
		timeouts.Highlight = cfg.Timeouts.Highlight
	}
	if cfg.Timeouts.Structured > 0 {
		timeouts.Structured = cfg.Timeouts.Structured
	}
	if cfg.Timeouts.Generate > 0 {
		timeouts.Generate = cfg.Timeouts.Generate
	}

	return &ProviderGateway{
		services: cfg.Services,
		timeouts: timeouts,
		logger:   logger,
	}
}

// Select resolves the backend for a run.
//
// An explicitly requested provider must be registered. Without a request the
// default is used, falling back to the first registered backend.
func (g *ProviderGateway) Select(requested string) (string, *Backend, error) {
	if requested != "" {
		b := g.services.Backend(requested)
		if b == nil {
			return "", nil, fmt.Errorf("%w: provider %q is not configured (set %s)",
				domain.ErrConfiguration, requested, credentialEnv(requested))
		}
		return b.ID(), g.bind(b), nil
	}

	def := g.services.DefaultProvider()
	if def != "" {
		if b := g.services.Backend(def); b != nil {
			return b.ID(), g.bind(b), nil
		}
	}

	backends := g.services.Backends()
	if len(backends) == 0 {
		return "", nil, fmt.Errorf("%w: no AI provider configured (set OPENAI_API_KEY or VERTEX_PROJECT_ID)",
			domain.ErrConfiguration)
	}

	b := backends[0]
	if def != "" {
		g.logger.Warn("default provider unavailable, falling back",
			"default_provider", def,
			"selected_provider", b.ID(),
		)
	}
	return b.ID(), g.bind(b), nil
}

func (g *ProviderGateway) bind(b driven.ExtractionBackend) *Backend {
	return &Backend{backend: b, timeouts: g.timeouts}
}

func credentialEnv(provider string) string {
	if env, ok := domain.ProviderCredentialEnv[provider]; ok {
		return env
	}
	return "credentials for " + provider
}

// Backend is a selected extraction backend with per-call deadlines applied.
type Backend struct {
	backend  driven.ExtractionBackend
	timeouts domain.ProviderTimeouts
}

// ID returns the backend identifier.
func (b *Backend) ID() string { return b.backend.ID() }

// Model returns the backend's model name.
func (b *Backend) Model() string { return b.backend.Model() }

// ExtractHighlight returns a short summary of the file.
func (b *Backend) ExtractHighlight(ctx context.Context, file *domain.File) (*driven.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeouts.Highlight)
	defer cancel()
	gen, err := b.backend.ExtractHighlight(ctx, file)
	return orEmpty(gen), upstream(b.ID(), "highlight", b.timeouts.Highlight, err)
}

// ExtractStructured returns the raw structured extraction for the file.
func (b *Backend) ExtractStructured(ctx context.Context, file *domain.File, kind domain.DocumentKind) (*driven.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeouts.Structured)
	defer cancel()
	gen, err := b.backend.ExtractStructured(ctx, file, kind)
	return orEmpty(gen), upstream(b.ID(), "structured extraction", b.timeouts.Structured, err)
}

// GenerateContent runs a free-form prompt.
func (b *Backend) GenerateContent(ctx context.Context, prompt string) (*driven.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeouts.Generate)
	defer cancel()
	gen, err := b.backend.GenerateContent(ctx, prompt)
	return orEmpty(gen), upstream(b.ID(), "generation", b.timeouts.Generate, err)
}

func orEmpty(gen *driven.Generation) *driven.Generation {
	if gen == nil {
		return &driven.Generation{}
	}
	return gen
}

// upstream classifies a provider error. Errors already carrying a domain
// sentinel pass through; everything else, including deadlines, is ErrUpstream.
func upstream(provider, op string, timeout time.Duration, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s %s exceeded %s deadline", domain.ErrUpstream, provider, op, timeout)
	case errors.Is(err, domain.ErrUpstream), errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrParse), errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s %s: %v", domain.ErrUpstream, provider, op, err)
	}
}
