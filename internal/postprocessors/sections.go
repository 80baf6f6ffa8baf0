package postprocessors

import (
	"strings"

	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// MetadataSection is the chunk metadata key holding the section title.
const MetadataSection = "section"

const maxHeadingLength = 48

// SectionSplitter breaks normalised text into one chunk per titled section.
// A section starts at a paragraph whose first line is a short title with no colon,
// which is the shape the extraction normaliser and provider highlights produce.
// Untitled paragraphs stay with the section before them.
type SectionSplitter struct{}

// Verify interface compliance
var _ driven.PostProcessor = (*SectionSplitter)(nil)

func NewSectionSplitter() *SectionSplitter {
	return &SectionSplitter{}
}

func (s *SectionSplitter) Process(chunks []driven.Chunk) []driven.Chunk {
	var out []driven.Chunk
	for _, chunk := range chunks {
		out = append(out, s.split(chunk)...)
	}
	return out
}

func (s *SectionSplitter) split(chunk driven.Chunk) []driven.Chunk {
	content := chunk.Content
	var out []driven.Chunk
	current := -1

	offset := 0
	for _, para := range strings.SplitAfter(content, "\n\n") {
		start := chunk.StartOffset + offset
		offset += len(para)
		if strings.TrimSpace(para) == "" {
			if current >= 0 {
				out[current].Content += para
				out[current].EndOffset = chunk.StartOffset + offset
			}
			continue
		}

		if title, ok := sectionTitle(para); ok || current < 0 {
			out = append(out, driven.Chunk{
				Content:     para,
				StartOffset: start,
				EndOffset:   chunk.StartOffset + offset,
				Metadata:    withSection(chunk.Metadata, title),
			})
			current = len(out) - 1
			continue
		}
		out[current].Content += para
		out[current].EndOffset = chunk.StartOffset + offset
	}

	for i := range out {
		trimmed := strings.TrimRight(out[i].Content, "\n")
		out[i].EndOffset -= len(out[i].Content) - len(trimmed)
		out[i].Content = trimmed
	}
	return out
}

func (s *SectionSplitter) Name() string {
	return "section-splitter"
}

// Order returns 0 - sections are found before size-based chunking.
func (s *SectionSplitter) Order() int {
	return 0
}

func sectionTitle(paragraph string) (string, bool) {
	first, rest, found := strings.Cut(strings.TrimLeft(paragraph, "\n"), "\n")
	first = strings.TrimSpace(first)
	if !found || strings.TrimSpace(rest) == "" {
		return "", false
	}
	if first == "" || len(first) > maxHeadingLength || strings.ContainsAny(first, ":.") {
		return "", false
	}
	return first, true
}

func withSection(meta map[string]string, title string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if title != "" {
		out[MetadataSection] = title
	}
	return out
}
