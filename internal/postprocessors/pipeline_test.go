package postprocessors

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

const extractionText = `Summary
Left breast IDC, ER positive, on adjuvant AC-T.

Diagnosis
histology: IDC
primary cancer type: Breast Cancer

Labs
ANC: 1.2 10^9/L [L]`

func TestPipeline_AddKeepsOrder(t *testing.T) {
	p := NewPipeline()
	p.Add(NewDeduplicator(DefaultDeduplicatorConfig()))
	p.Add(NewChunker(DefaultChunkConfig()))
	p.Add(NewWhitespaceNormalizer())
	p.Add(NewSectionSplitter())

	want := []string{"section-splitter", "chunker", "whitespace-normalizer", "deduplicator"}
	got := p.List()
	if len(got) != len(want) {
		t.Fatalf("expected %d processors, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestPipeline_BlankContent(t *testing.T) {
	p := DefaultPipeline()
	for _, content := range []string{"", "   ", "\n\n"} {
		if chunks := p.Process(content); len(chunks) != 0 {
			t.Errorf("expected no chunks for %q, got %d", content, len(chunks))
		}
	}
}

func TestPipeline_SectionsBecomeChunks(t *testing.T) {
	chunks := DefaultPipeline().Process(extractionText)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	sections := []string{"Summary", "Diagnosis", "Labs"}
	for i, chunk := range chunks {
		if chunk.Position != i {
			t.Errorf("chunk %d: expected position %d, got %d", i, i, chunk.Position)
		}
		if chunk.Metadata[MetadataSection] != sections[i] {
			t.Errorf("chunk %d: expected section %s, got %q", i, sections[i], chunk.Metadata[MetadataSection])
		}
		if !strings.HasPrefix(chunk.Content, sections[i]+"\n") {
			t.Errorf("chunk %d should start with its title, got %q", i, chunk.Content)
		}
		if extractionText[chunk.StartOffset:chunk.EndOffset] != chunk.Content {
			t.Errorf("chunk %d offsets do not match content", i)
		}
	}
}

func TestSectionSplitter_UntitledParagraphsJoinPrevious(t *testing.T) {
	s := NewSectionSplitter()
	content := "Intro line without a title.\n\nImpression\nStable disease.\n\nNo change from prior study."

	chunks := s.Process([]driven.Chunk{{Content: content, EndOffset: len(content)}})

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if _, ok := chunks[0].Metadata[MetadataSection]; ok {
		t.Error("leading paragraph should have no section")
	}
	if chunks[1].Metadata[MetadataSection] != "Impression" {
		t.Errorf("expected Impression section, got %q", chunks[1].Metadata[MetadataSection])
	}
	if !strings.HasSuffix(chunks[1].Content, "No change from prior study.") {
		t.Errorf("trailing paragraph should join Impression, got %q", chunks[1].Content)
	}
}

func TestSectionTitle(t *testing.T) {
	tests := []struct {
		paragraph string
		title     string
		ok        bool
	}{
		{"Diagnosis\nhistology: IDC", "Diagnosis", true},
		{"Treatment cycle 3\ncycle number: 3", "Treatment cycle 3", true},
		{"histology: IDC\nmore", "", false},
		{"Single line only", "", false},
		{"A sentence that ends.\nNext", "", false},
		{strings.Repeat("x", maxHeadingLength+1) + "\nbody", "", false},
	}
	for _, tt := range tests {
		title, ok := sectionTitle(tt.paragraph)
		if title != tt.title || ok != tt.ok {
			t.Errorf("sectionTitle(%q) = %q, %v; want %q, %v", tt.paragraph, title, ok, tt.title, tt.ok)
		}
	}
}

func TestChunker_SmallChunkUnchanged(t *testing.T) {
	c := NewChunker(DefaultChunkConfig())
	in := driven.Chunk{Content: "short", StartOffset: 7, EndOffset: 12, Metadata: map[string]string{"section": "Labs"}}

	out := c.Process([]driven.Chunk{in})
	if len(out) != 1 || out[0].Content != "short" || out[0].StartOffset != 7 {
		t.Errorf("expected chunk unchanged, got %+v", out)
	}
}

func TestChunker_WindowsWithOverlap(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 100, Overlap: 20})
	content := strings.Repeat("Neutropenia grade 3 noted. ", 20)

	out := c.Process([]driven.Chunk{{Content: content, EndOffset: len(content), Metadata: map[string]string{"section": "Treatment"}}})

	if len(out) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(out))
	}
	for i, chunk := range out {
		if len(chunk.Content) > 100 {
			t.Errorf("chunk %d exceeds max size: %d", i, len(chunk.Content))
		}
		if chunk.Metadata["section"] != "Treatment" {
			t.Errorf("chunk %d lost its section", i)
		}
		if content[chunk.StartOffset:chunk.EndOffset] != chunk.Content {
			t.Errorf("chunk %d offsets do not match content", i)
		}
		if i > 0 && chunk.StartOffset >= out[i-1].EndOffset {
			t.Errorf("chunk %d should overlap the previous one", i)
		}
	}
	if out[len(out)-1].EndOffset != len(content) {
		t.Error("last chunk should reach the end of the content")
	}
}

func TestChunker_NeverSplitsRunes(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 10, Overlap: 3})
	content := strings.Repeat("µg", 30)

	out := c.Process([]driven.Chunk{{Content: content, EndOffset: len(content)}})
	for i, chunk := range out {
		if !utf8.ValidString(chunk.Content) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, chunk.Content)
		}
	}
}

func TestChunker_ConfigNormalised(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 0, Overlap: -5})
	if c.config.MaxChunkSize != DefaultChunkConfig().MaxChunkSize {
		t.Errorf("expected default size, got %d", c.config.MaxChunkSize)
	}
	if c.config.Overlap != 0 {
		t.Errorf("expected zero overlap, got %d", c.config.Overlap)
	}

	c = NewChunker(ChunkConfig{MaxChunkSize: 50, Overlap: 50})
	if c.config.Overlap != 0 {
		t.Errorf("overlap >= size should be dropped, got %d", c.config.Overlap)
	}
}

func TestWhitespaceNormalizer(t *testing.T) {
	w := NewWhitespaceNormalizer()
	in := []driven.Chunk{
		{Content: "  Diagnosis  \r\nhistology:   IDC\n\n\n\ngrade: 2  "},
		{Content: " \n\t\n"},
		{Content: "Labs", Metadata: map[string]string{"section": "Labs"}},
	}

	out := w.Process(in)

	if len(out) != 2 {
		t.Fatalf("expected empty chunk dropped, got %d chunks", len(out))
	}
	if out[0].Content != "Diagnosis\nhistology: IDC\n\ngrade: 2" {
		t.Errorf("unexpected content %q", out[0].Content)
	}
	if out[1].Metadata["section"] != "Labs" {
		t.Error("metadata should be preserved")
	}
}

func TestDeduplicator(t *testing.T) {
	d := NewDeduplicator(DefaultDeduplicatorConfig())
	summary := "Left breast IDC, ER positive, on adjuvant AC-T."
	in := []driven.Chunk{
		{Content: summary},
		{Content: "Labs"},
		{Content: strings.ToUpper(summary)},
		{Content: "Labs"},
		{Content: "Left  breast IDC,\nER positive, on adjuvant AC-T."},
	}

	out := d.Process(in)

	if len(out) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(out))
	}
	if out[1].Content != "Labs" || out[2].Content != "Labs" {
		t.Error("short chunks should never be removed")
	}
}

func TestInterfaceCompliance(t *testing.T) {
	var _ driven.PostProcessorPipeline = (*Pipeline)(nil)
	var _ driven.PostProcessor = (*SectionSplitter)(nil)
	var _ driven.PostProcessor = (*Chunker)(nil)
	var _ driven.PostProcessor = (*WhitespaceNormalizer)(nil)
	var _ driven.PostProcessor = (*Deduplicator)(nil)
}
