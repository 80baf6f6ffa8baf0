package postprocessors

import (
	"strings"

	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// DeduplicatorConfig configures the deduplicator.
type DeduplicatorConfig struct {
	// MinDuplicateLength is the minimum chunk length considered for removal.
	// Shorter chunks (a lone "Labs" line, say) are always kept.
	MinDuplicateLength int
}

func DefaultDeduplicatorConfig() DeduplicatorConfig {
	return DeduplicatorConfig{MinDuplicateLength: 40}
}

// Deduplicator drops chunks whose text repeats an earlier chunk, ignoring case and spacing.
// Highlights often restate the structured summary verbatim.
type Deduplicator struct {
	config DeduplicatorConfig
}

// Verify interface compliance
var _ driven.PostProcessor = (*Deduplicator)(nil)

func NewDeduplicator(config DeduplicatorConfig) *Deduplicator {
	return &Deduplicator{config: config}
}

func (d *Deduplicator) Process(chunks []driven.Chunk) []driven.Chunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]driven.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Content) < d.config.MinDuplicateLength {
			out = append(out, chunk)
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(chunk.Content), " "))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, chunk)
	}
	return out
}

func (d *Deduplicator) Name() string {
	return "deduplicator"
}

// Order returns 10 - runs last.
func (d *Deduplicator) Order() int {
	return 10
}

// WhitespaceNormalizer collapses runs of spaces, trims lines and drops empty chunks.
type WhitespaceNormalizer struct{}

// Verify interface compliance
var _ driven.PostProcessor = (*WhitespaceNormalizer)(nil)

func NewWhitespaceNormalizer() *WhitespaceNormalizer {
	return &WhitespaceNormalizer{}
}

func (w *WhitespaceNormalizer) Process(chunks []driven.Chunk) []driven.Chunk {
	out := make([]driven.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		lines := strings.Split(strings.ReplaceAll(chunk.Content, "\r\n", "\n"), "\n")
		kept := lines[:0]
		blank := false
		for _, line := range lines {
			line = strings.Join(strings.Fields(line), " ")
			if line == "" {
				if blank || len(kept) == 0 {
					continue
				}
				blank = true
			} else {
				blank = false
			}
			kept = append(kept, line)
		}
		content := strings.TrimSpace(strings.Join(kept, "\n"))
		if content == "" {
			continue
		}
		chunk.Content = content
		out = append(out, chunk)
	}
	return out
}

func (w *WhitespaceNormalizer) Name() string {
	return "whitespace-normalizer"
}

// Order returns 5 - between the chunker and the deduplicator.
func (w *WhitespaceNormalizer) Order() int {
	return 5
}
