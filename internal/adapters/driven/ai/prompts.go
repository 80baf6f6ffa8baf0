package ai

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

const systemInstruction = "You are a clinical document abstraction assistant for an oncology practice. " +
	"Report only what the document states. Never guess values that are not written in the document."

const highlightPrompt = `Summarise the attached clinical document in at most two sentences for a clinician
scanning a patient chart. Mention the document type, the key finding and any date it refers to.
Respond with plain text only.`

const structuredPromptHeader = `Extract structured data from the attached clinical document.
Respond with a single JSON object and nothing else. Omit any section or field the document does not state.
Dates use YYYY-MM-DD. Use this shape:

{
  "diagnosis": {"primary_cancer_type": "", "primary_site": "", "histology": "", "grade": "", "laterality": "", "diagnosis_date": "", "biomarkers": "", "status": ""},
  "staging": {"staging_system": "", "staging_date": "", "t_category": "", "n_category": "", "m_category": "", "overall_stage": "", "clinical_or_pathologic": ""},
  "treatment": {"regimen": "", "modality": "", "intent": "", "line": "", "status": "", "start_date": "", "end_date": "", "response": "",
    "cycles": [{"cycle_number": 1, "start_date": "", "end_date": "", "dose_modification": "", "adverse_events": "", "toxicity_grade": 1}]},
  "medications": [{"generic_name": "", "brand_name": "", "dose": "", "frequency": "", "route": "", "indication": "", "status": "", "start_date": "", "end_date": ""}],
  "labs": [{"name": "", "value": "", "unit": "", "reference_range": "", "flag": "", "date": ""}],
  "findings": [""],
  "summary": "",
  "confidence": 0.0
}
`

// kindGuidance narrows the extraction to what each document kind usually carries.
var kindGuidance = map[domain.DocumentKind]string{
	domain.DocumentKindPathology: "Focus on diagnosis, histology, grade, biomarkers and pathologic staging.",
	domain.DocumentKindImaging:   "Focus on findings, lesion sizes, clinical staging and response to treatment.",
	domain.DocumentKindLab:       "Focus on labs. Copy each value with its unit, reference range and abnormal flag.",
	domain.DocumentKindNote:      "Capture diagnosis status, current treatment, cycles with CTCAE toxicity grades and medications.",
	domain.DocumentKindDischarge: "Capture the admission summary, treatment given and discharge medications.",
	domain.DocumentKindPrescribe: "Focus on medications with dose, frequency, route and indication.",
	domain.DocumentKindGenomic:   "Focus on biomarkers and variants; record them in diagnosis.biomarkers and findings.",
}

// StructuredPrompt returns the extraction prompt for a document kind.
func StructuredPrompt(kind domain.DocumentKind) string {
	var b strings.Builder
	b.WriteString(structuredPromptHeader)
	if g, ok := kindGuidance[kind]; ok {
		fmt.Fprintf(&b, "\nThis is a %s. %s\n", strings.ReplaceAll(string(kind), "_", " "), g)
	}
	b.WriteString("\nToxicity grades are CTCAE integers from 1 to 5.\n")
	return b.String()
}
