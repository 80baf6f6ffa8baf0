package normalisers

import (
	"mime"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry resolves normalisers by media type.
type Registry struct {
	mu      sync.RWMutex
	entries []driven.Normaliser
}

func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry knows plain text, the Markdown highlight and extraction payloads.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&PlaintextNormaliser{}, &MarkdownNormaliser{}, &ExtractionNormaliser{})
	return r
}

// Register adds normalisers. Among equal priorities the earlier registration wins.
func (r *Registry) Register(normalisers ...driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, normalisers...)
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Priority() > r.entries[j].Priority()
	})
}

func (r *Registry) Resolve(mimeType string) driven.Normaliser {
	mediaType := baseType(mimeType)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.entries {
		if accepts(n.SupportedTypes(), mediaType) {
			return n
		}
	}
	return nil
}

func (r *Registry) Normalise(content string, mimeType string) string {
	if n := r.Resolve(mimeType); n != nil {
		return n.Normalise(content, mimeType)
	}
	return strings.TrimSpace(content)
}

// baseType drops parameters such as charset and lower-cases the type.
func baseType(mimeType string) string {
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mediaType
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func accepts(patterns []string, mediaType string) bool {
	for _, p := range patterns {
		p = strings.ToLower(p)
		switch {
		case p == "*/*", p == mediaType:
			return true
		case strings.HasSuffix(p, "/*") && strings.HasPrefix(mediaType, strings.TrimSuffix(p, "*")):
			return true
		}
	}
	return false
}

// PlaintextNormaliser is the fallback for any media type.
type PlaintextNormaliser struct{}

func (n *PlaintextNormaliser) Normalise(content string, mimeType string) string {
	return strings.TrimSpace(normaliseLineEndings(content))
}

func (n *PlaintextNormaliser) SupportedTypes() []string { return []string{"text/plain", "*/*"} }

func (n *PlaintextNormaliser) Priority() int { return 1 }

// MarkdownNormaliser flattens the Markdown a provider returns for the medical highlight.
// Heading markers, emphasis and list bullets are removed; line structure is kept.
type MarkdownNormaliser struct{}

func (n *MarkdownNormaliser) Normalise(content string, mimeType string) string {
	lines := strings.Split(normaliseLineEndings(content), "\n")
	for i, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		for _, bullet := range []string{"- ", "* ", "+ "} {
			if rest, ok := strings.CutPrefix(line, bullet); ok {
				line = strings.TrimSpace(rest)
				break
			}
		}
		lines[i] = markdownMarks.Replace(line)
	}
	return collapseBlankLines(strings.Join(lines, "\n"))
}

var markdownMarks = strings.NewReplacer("**", "", "__", "", "`", "")

func (n *MarkdownNormaliser) SupportedTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

func (n *MarkdownNormaliser) Priority() int { return 50 }

func normaliseLineEndings(content string) string {
	return strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(content)
}

// collapseBlankLines keeps at most one blank line between paragraphs.
func collapseBlankLines(content string) string {
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(content)
}
