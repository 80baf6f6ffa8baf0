package normalisers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// MIMEExtraction is the content type the indexing stage uses for serialised ExtractedData.
const MIMEExtraction = "application/vnd.clinical.extraction+json"

// ExtractionNormaliser renders a structured extraction payload as labelled prose.
// Each section becomes a paragraph headed by its name so the chunker can split on section boundaries.
// Content that is not an ExtractedData document is passed through as plain text.
type ExtractionNormaliser struct{}

func (n *ExtractionNormaliser) Normalise(content string, mimeType string) string {
	var data domain.ExtractedData
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return strings.TrimSpace(normaliseLineEndings(content))
	}
	if !data.IsParsed() {
		return strings.TrimSpace(normaliseLineEndings(data.RawResponse))
	}

	var sections []string
	add := func(title string, body string) {
		if body = strings.TrimSpace(body); body != "" {
			sections = append(sections, title+"\n"+body)
		}
	}

	add("Summary", data.Summary)
	if data.Diagnosis != nil {
		add("Diagnosis", fieldLines(data.Diagnosis))
	}
	if data.Staging != nil {
		add("Staging", fieldLines(data.Staging))
	}
	if data.Treatment != nil {
		add("Treatment", fieldLines(data.Treatment))
		for _, c := range data.Treatment.Cycles {
			add(fmt.Sprintf("Treatment cycle %d", c.CycleNumber), fieldLines(c))
		}
	}
	for _, m := range data.Medications {
		add("Medication", fieldLines(m))
	}
	if len(data.Labs) > 0 {
		var b strings.Builder
		for _, l := range data.Labs {
			b.WriteString(labLine(l))
			b.WriteByte('\n')
		}
		add("Labs", b.String())
	}
	if len(data.Findings) > 0 {
		add("Findings", strings.Join(data.Findings, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func (n *ExtractionNormaliser) SupportedTypes() []string {
	return []string{MIMEExtraction, "application/json"}
}

func (n *ExtractionNormaliser) Priority() int {
	return 80
}

// fieldLines writes one "label: value" line per non-empty scalar field, sorted by field name.
func fieldLines(section any) string {
	fields := domain.SectionFields(section)
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		b.WriteString(strings.ReplaceAll(k, "_", " "))
		b.WriteString(": ")
		b.WriteString(fields[k])
		b.WriteByte('\n')
	}
	return b.String()
}

func labLine(l domain.LabResult) string {
	line := l.Name
	if l.Value != "" {
		line += ": " + strings.TrimSpace(l.Value+" "+l.Unit)
	}
	if l.ReferenceRange != "" {
		line += " (ref " + l.ReferenceRange + ")"
	}
	if l.Flag != "" {
		line += " [" + l.Flag + "]"
	}
	if l.Date != "" {
		line += " on " + l.Date
	}
	return line
}
