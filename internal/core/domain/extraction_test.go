package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExtraction = "```json\n" + `{
  "diagnosis": {"primary_cancer_type": "Breast Cancer", "histology": "Invasive ductal carcinoma", "grade": "2"},
  "staging": {"t_category": "T2", "n_category": "N1", "m_category": "M0", "overall_stage": "IIB"},
  "treatment": {"regimen": "AC-T", "status": "active", "start_date": "2025-02-01",
    "cycles": [{"cycle_number": 1, "toxicity_grade": 2}, {"cycle_number": 2}]},
  "medications": [{"generic_name": "Tamoxifen", "dose": "20 mg", "frequency": "daily"}],
  "summary": "ER+ breast cancer on AC-T."
}` + "\n```"

func TestParseExtraction(t *testing.T) {
	data, err := ParseExtraction(sampleExtraction, DocumentKindPathology)
	require.NoError(t, err)

	assert.True(t, data.IsParsed())
	assert.Equal(t, ExtractionSchemaVersion, data.SchemaVersion)
	assert.Equal(t, DocumentKindPathology, data.DocumentKind)
	require.NotNil(t, data.Diagnosis)
	assert.Equal(t, "Breast Cancer", data.Diagnosis.PrimaryCancerType)
	require.NotNil(t, data.Treatment)
	assert.Len(t, data.Treatment.Cycles, 2)
	assert.Equal(t, 2, *data.Treatment.Cycles[0].ToxicityGrade)
	assert.Len(t, data.Medications, 1)
	assert.Empty(t, data.ValidationErrors)
}

func TestParseExtraction_FallsBackToRaw(t *testing.T) {
	raw := "I could not read this document."

	data, err := ParseExtraction(raw, DocumentKindLab)
	assert.ErrorIs(t, err, ErrParse)
	require.NotNil(t, data)
	assert.False(t, data.IsParsed())
	assert.Equal(t, raw, data.RawResponse)
	assert.Equal(t, DocumentKindLab, data.DocumentKind)
}

func TestParseExtraction_SchemaViolationsAreReported(t *testing.T) {
	raw := `{"treatment": {"cycles": [{"cycle_number": 1, "toxicity_grade": 9}]}}`

	data, err := ParseExtraction(raw, DocumentKindNote)
	require.NoError(t, err)
	assert.NotEmpty(t, data.ValidationErrors)
}

func TestParseExtraction_CoercesMistypedScalars(t *testing.T) {
	raw := `{
  "diagnosis": {"primary_cancer_type": "Breast Cancer", "grade": 2},
  "treatment": {"regimen": "AC-T", "cycles": [
    {"cycle_number": "2", "toxicity_grade": "Grade 3"},
    {"cycle_number": 3, "toxicity_grade": 1}
  ]},
  "findings": "No distant metastases.",
  "confidence": "0.85"
}`

	data, err := ParseExtraction(raw, DocumentKindPathology)
	require.NoError(t, err)

	assert.True(t, data.IsParsed())
	require.NotNil(t, data.Diagnosis)
	assert.Equal(t, "Breast Cancer", data.Diagnosis.PrimaryCancerType)
	assert.Equal(t, "2", data.Diagnosis.Grade)

	require.NotNil(t, data.Treatment)
	require.Len(t, data.Treatment.Cycles, 2)
	assert.Equal(t, 2, data.Treatment.Cycles[0].CycleNumber)
	require.NotNil(t, data.Treatment.Cycles[0].ToxicityGrade)
	assert.Equal(t, 3, *data.Treatment.Cycles[0].ToxicityGrade)
	assert.Equal(t, 3, data.Treatment.Cycles[1].CycleNumber)
	assert.Equal(t, 1, *data.Treatment.Cycles[1].ToxicityGrade)

	assert.Equal(t, []string{"No distant metastases."}, data.Findings)
	require.NotNil(t, data.Confidence)
	assert.InDelta(t, 0.85, *data.Confidence, 1e-9)

	assert.Contains(t, data.ValidationErrors, "diagnosis.grade: number coerced to string")
	assert.Contains(t, data.ValidationErrors, `treatment.cycles.toxicity_grade: string "Grade 3" coerced to integer`)
}

func TestParseExtraction_DropsOnlyUnusableFields(t *testing.T) {
	raw := `{
  "diagnosis": {"primary_cancer_type": "Breast Cancer", "histology": {"code": "8500/3"}},
  "treatment": {"cycles": [{"cycle_number": 1, "toxicity_grade": "severe"}]},
  "medications": ["tamoxifen", {"generic_name": "Letrozole", "dose": "2.5 mg"}],
  "summary": "Adjuvant endocrine therapy."
}`

	data, err := ParseExtraction(raw, DocumentKindNote)
	require.NoError(t, err)

	assert.True(t, data.IsParsed())
	require.NotNil(t, data.Diagnosis)
	assert.Equal(t, "Breast Cancer", data.Diagnosis.PrimaryCancerType)
	assert.Empty(t, data.Diagnosis.Histology)

	require.NotNil(t, data.Treatment)
	require.Len(t, data.Treatment.Cycles, 1)
	assert.Equal(t, 1, data.Treatment.Cycles[0].CycleNumber)
	assert.Nil(t, data.Treatment.Cycles[0].ToxicityGrade)

	require.Len(t, data.Medications, 1)
	assert.Equal(t, "Letrozole", data.Medications[0].GenericName)
	assert.Equal(t, "Adjuvant endocrine therapy.", data.Summary)

	assert.Contains(t, data.ValidationErrors, "diagnosis.histology: dropped object value, expected string")
	assert.Contains(t, data.ValidationErrors, "medications: dropped 1 non-object entries")
}

func TestLooseInt(t *testing.T) {
	tests := []struct {
		key  string
		in   string
		want int
		ok   bool
	}{
		{"cycle_number", "2", 2, true},
		{"cycle_number", "Cycle 4", 4, true},
		{"cycle_number", "C5D1", 5, true},
		{"cycle_number", "first", 0, false},
		{"toxicity_grade", "Grade 3", 3, true},
		{"toxicity_grade", "G2", 2, true},
		{"toxicity_grade", "7", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key+"/"+tt.in, func(t *testing.T) {
			got, ok := looseInt(tt.key, tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSectionFields(t *testing.T) {
	fields := SectionFields(&TreatmentData{
		Regimen: "AC-T",
		Status:  " active ",
		Cycles:  []CycleData{{CycleNumber: 1}},
	})

	assert.Equal(t, map[string]string{"regimen": "AC-T", "status": "active"}, fields)
	assert.Empty(t, SectionFields(nil))

	cycle := SectionFields(CycleData{CycleNumber: 3})
	assert.Equal(t, "3", cycle["cycle_number"])
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("  {\"a\":1} "))
}

func TestParseTimeline(t *testing.T) {
	raw := `Here are the events:
[
  {"date": "2025-01-10", "type": "diagnosis", "title": "Biopsy confirmed IDC"},
  {"date": "", "title": "undated"},
  {"date": "2025-02-01", "title": "Started AC-T"}
]`

	events, err := ParseTimeline(raw, "pat-1", "doc-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "diagnosis", events[0].EventType)
	assert.Equal(t, "other", events[1].EventType)
	assert.Equal(t, "doc-1", events[1].DocumentID)

	_, err = ParseTimeline("no events", "pat-1", "doc-1")
	assert.ErrorIs(t, err, ErrParse)
}
