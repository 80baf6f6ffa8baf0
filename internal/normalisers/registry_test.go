package normalisers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

type stubNormaliser struct {
	tag      string
	types    []string
	priority int
}

func (s *stubNormaliser) Normalise(content string, mimeType string) string {
	return s.tag + ":" + content
}

func (s *stubNormaliser) SupportedTypes() []string { return s.types }

func (s *stubNormaliser) Priority() int { return s.priority }

func TestRegistry_ResolveEmpty(t *testing.T) {
	r := NewRegistry()
	if n := r.Resolve("text/plain"); n != nil {
		t.Errorf("expected nil from empty registry, got %T", n)
	}
	if got := r.Normalise("  Stage IIB \n", "text/plain"); got != "Stage IIB" {
		t.Errorf("expected trimmed passthrough, got %q", got)
	}
}

func TestRegistry_ResolvePicksHighestPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(
		&stubNormaliser{tag: "generic", types: []string{"text/*"}, priority: 10},
		&stubNormaliser{tag: "specific", types: []string{"text/markdown"}, priority: 60},
		&stubNormaliser{tag: "fallback", types: []string{"*/*"}, priority: 1},
	)

	tests := []struct {
		mimeType string
		want     string
	}{
		{"text/markdown", "specific:x"},
		{"text/markdown; charset=utf-8", "specific:x"},
		{"TEXT/Markdown", "specific:x"},
		{"text/csv", "generic:x"},
		{"application/pdf", "fallback:x"},
		{"", "fallback:x"},
	}
	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			if got := r.Normalise("x", tt.mimeType); got != tt.want {
				t.Errorf("Normalise(%q) = %q, want %q", tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestRegistry_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubNormaliser{tag: "first", types: []string{"text/plain"}, priority: 5})
	r.Register(&stubNormaliser{tag: "second", types: []string{"text/plain"}, priority: 5})

	if got := r.Normalise("x", "text/plain"); got != "first:x" {
		t.Errorf("expected first registration to win, got %q", got)
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		patterns  []string
		mediaType string
		want      bool
	}{
		{[]string{"text/plain"}, "text/plain", true},
		{[]string{"Text/Plain"}, "text/plain", true},
		{[]string{"text/*"}, "text/html", true},
		{[]string{"text/*"}, "application/json", false},
		{[]string{"*/*"}, "image/png", true},
		{[]string{"application/json"}, "application/jsonl", false},
		{nil, "text/plain", false},
	}
	for _, tt := range tests {
		if got := accepts(tt.patterns, tt.mediaType); got != tt.want {
			t.Errorf("accepts(%v, %q) = %v, want %v", tt.patterns, tt.mediaType, got, tt.want)
		}
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	tests := map[string]any{
		"text/plain":       &PlaintextNormaliser{},
		"text/markdown":    &MarkdownNormaliser{},
		MIMEExtraction:     &ExtractionNormaliser{},
		"application/json": &ExtractionNormaliser{},
		"application/pdf":  &PlaintextNormaliser{},
	}
	for mimeType, want := range tests {
		got := r.Resolve(mimeType)
		if got == nil {
			t.Errorf("no normaliser for %s", mimeType)
			continue
		}
		if gotType, wantType := typeName(got), typeName(want); gotType != wantType {
			t.Errorf("Resolve(%s) = %s, want %s", mimeType, gotType, wantType)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *PlaintextNormaliser:
		return "plaintext"
	case *MarkdownNormaliser:
		return "markdown"
	case *ExtractionNormaliser:
		return "extraction"
	}
	return "unknown"
}

func TestPlaintextNormaliser(t *testing.T) {
	n := &PlaintextNormaliser{}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple text", "Stage IIA", "Stage IIA"},
		{"windows line endings", "ER+\r\nPR-", "ER+\nPR-"},
		{"old mac line endings", "ER+\rPR-", "ER+\nPR-"},
		{"trim whitespace", "  HER2 negative  ", "HER2 negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := n.Normalise(tt.input, "text/plain")
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}

	if n.Priority() != 1 {
		t.Errorf("expected priority 1, got %d", n.Priority())
	}
}

func TestMarkdownNormaliser(t *testing.T) {
	n := &MarkdownNormaliser{}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"heading", "## Impression\nStable disease", "Impression\nStable disease"},
		{"bullets", "- **Diagnosis**: IDC\n* Grade 2", "Diagnosis: IDC\nGrade 2"},
		{"excessive blank lines", "a\n\n\n\nb", "a\n\nb"},
		{"code spans", "dose `75 mg/m2`", "dose 75 mg/m2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := n.Normalise(tt.input, "text/markdown")
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}

	if n.Priority() != 50 {
		t.Errorf("expected priority 50, got %d", n.Priority())
	}
}

func TestExtractionNormaliser(t *testing.T) {
	n := &ExtractionNormaliser{}
	grade := 2
	data := domain.ExtractedData{
		SchemaVersion: domain.ExtractionSchemaVersion,
		Summary:       "Left breast IDC on adjuvant therapy.",
		Diagnosis: &domain.DiagnosisData{
			PrimaryCancerType: "Breast Cancer",
			Histology:         "IDC",
		},
		Treatment: &domain.TreatmentData{
			Regimen: "AC-T",
			Cycles:  []domain.CycleData{{CycleNumber: 3, ToxicityGrade: &grade}},
		},
		Labs: []domain.LabResult{{Name: "ANC", Value: "1.2", Unit: "10^9/L", Flag: "L"}},
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}

	got := n.Normalise(string(raw), MIMEExtraction)

	for _, want := range []string{
		"Summary\nLeft breast IDC on adjuvant therapy.",
		"Diagnosis\nhistology: IDC\nprimary cancer type: Breast Cancer",
		"Treatment\nregimen: AC-T",
		"Treatment cycle 3\ncycle number: 3\ntoxicity grade: 2",
		"Labs\nANC: 1.2 10^9/L [L]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Staging") {
		t.Error("empty sections should be omitted")
	}
}

func TestExtractionNormaliser_Fallbacks(t *testing.T) {
	n := &ExtractionNormaliser{}

	if got := n.Normalise("not json\r\n", MIMEExtraction); got != "not json" {
		t.Errorf("expected passthrough of invalid JSON, got %q", got)
	}

	raw, _ := json.Marshal(domain.ExtractedData{RawResponse: "model said something"})
	if got := n.Normalise(string(raw), MIMEExtraction); got != "model said something" {
		t.Errorf("expected raw response text, got %q", got)
	}
}

func TestInterfaceCompliance(t *testing.T) {
	var _ driven.Normaliser = (*PlaintextNormaliser)(nil)
	var _ driven.Normaliser = (*MarkdownNormaliser)(nil)
	var _ driven.Normaliser = (*ExtractionNormaliser)(nil)
	var _ driven.NormaliserRegistry = (*Registry)(nil)
}
