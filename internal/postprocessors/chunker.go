package postprocessors

import (
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// ChunkConfig configures the chunker.
type ChunkConfig struct {
	// MaxChunkSize is the maximum bytes per chunk
	MaxChunkSize int

	// Overlap is the byte overlap between consecutive chunks of one section
	Overlap int
}

// DefaultChunkConfig sizes chunks for clinical paragraphs.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChunkSize: 1200,
		Overlap:      150,
	}
}

func (c ChunkConfig) normalised() ChunkConfig {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = DefaultChunkConfig().MaxChunkSize
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChunkSize {
		c.Overlap = 0
	}
	return c
}

// Chunker splits oversized chunks into overlapping windows.
// Breaks prefer a line end, then a sentence end, then a space, and never fall inside a UTF-8 sequence.
type Chunker struct {
	config ChunkConfig
}

// Verify interface compliance
var _ driven.PostProcessor = (*Chunker)(nil)

func NewChunker(config ChunkConfig) *Chunker {
	return &Chunker{config: config.normalised()}
}

func (c *Chunker) Process(chunks []driven.Chunk) []driven.Chunk {
	var out []driven.Chunk
	for _, chunk := range chunks {
		out = append(out, c.window(chunk)...)
	}
	return out
}

func (c *Chunker) Name() string {
	return "chunker"
}

// Order returns 1 - runs right after the section splitter.
func (c *Chunker) Order() int {
	return 1
}

func (c *Chunker) window(chunk driven.Chunk) []driven.Chunk {
	content := chunk.Content
	if len(content) <= c.config.MaxChunkSize {
		return []driven.Chunk{chunk}
	}

	var out []driven.Chunk
	start := 0
	for start < len(content) {
		end := start + c.config.MaxChunkSize
		if end >= len(content) {
			end = len(content)
		} else {
			end = breakBefore(content, start, end)
		}
		if end <= start {
			_, size := utf8.DecodeRuneInString(content[start:])
			end = start + size
		}

		out = append(out, driven.Chunk{
			Content:     content[start:end],
			StartOffset: chunk.StartOffset + start,
			EndOffset:   chunk.StartOffset + end,
			Metadata:    chunk.Metadata,
		})
		if end == len(content) {
			break
		}

		next := runeStart(content, end-c.config.Overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// breakBefore picks the best break in the last quarter of content[start:limit].
func breakBefore(content string, start, limit int) int {
	from := limit - (limit-start)/4
	window := content[from:limit]

	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		return from + i + 1
	}
	best := -1
	for _, ender := range []string{". ", "; ", "? ", "! "} {
		if i := strings.LastIndex(window, ender); i >= 0 && i+len(ender) > best {
			best = i + len(ender)
		}
	}
	if best > 0 {
		return from + best
	}
	if i := strings.LastIndexByte(window, ' '); i >= 0 {
		return from + i + 1
	}
	return runeStart(content, limit)
}

// runeStart moves i back to the first byte of the rune containing it.
func runeStart(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
