package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// ExtractionSchemaVersion is the current ExtractedData layout.
const ExtractionSchemaVersion = 1

// ExtractedData is the structured payload extracted from one document.
// All sections are optional; a provider response that fails to parse is kept in RawResponse.
type ExtractedData struct {
	SchemaVersion int              `json:"schema_version"`
	DocumentKind  DocumentKind     `json:"document_kind,omitempty"`
	Diagnosis     *DiagnosisData   `json:"diagnosis,omitempty"`
	Staging       *StagingData     `json:"staging,omitempty"`
	Treatment     *TreatmentData   `json:"treatment,omitempty"`
	Medications   []MedicationData `json:"medications,omitempty"`
	Labs          []LabResult      `json:"labs,omitempty"`
	Findings      []string         `json:"findings,omitempty"`
	Summary       string           `json:"summary,omitempty"`
	Confidence    *float64         `json:"confidence,omitempty"`

	RawResponse      string   `json:"raw_response,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// DiagnosisData mirrors the Diagnosis record fields.
type DiagnosisData struct {
	PrimaryCancerType string `json:"primary_cancer_type,omitempty"`
	PrimarySite       string `json:"primary_site,omitempty"`
	Histology         string `json:"histology,omitempty"`
	Grade             string `json:"grade,omitempty"`
	Laterality        string `json:"laterality,omitempty"`
	DiagnosisDate     string `json:"diagnosis_date,omitempty"`
	Biomarkers        string `json:"biomarkers,omitempty"`
	Status            string `json:"status,omitempty"`
}

// StagingData mirrors the Staging record fields.
type StagingData struct {
	StagingSystem        string `json:"staging_system,omitempty"`
	StagingDate          string `json:"staging_date,omitempty"`
	TCategory            string `json:"t_category,omitempty"`
	NCategory            string `json:"n_category,omitempty"`
	MCategory            string `json:"m_category,omitempty"`
	OverallStage         string `json:"overall_stage,omitempty"`
	ClinicalOrPathologic string `json:"clinical_or_pathologic,omitempty"`
}

// TreatmentData mirrors the Treatment record fields plus its cycles.
type TreatmentData struct {
	Regimen   string      `json:"regimen,omitempty"`
	Modality  string      `json:"modality,omitempty"`
	Intent    string      `json:"intent,omitempty"`
	Line      string      `json:"line,omitempty"`
	Status    string      `json:"status,omitempty"`
	StartDate string      `json:"start_date,omitempty"`
	EndDate   string      `json:"end_date,omitempty"`
	Response  string      `json:"response,omitempty"`
	Cycles    []CycleData `json:"cycles,omitempty"`
}

// CycleData mirrors the TreatmentCycle record fields.
type CycleData struct {
	CycleNumber      int    `json:"cycle_number"`
	StartDate        string `json:"start_date,omitempty"`
	EndDate          string `json:"end_date,omitempty"`
	DoseModification string `json:"dose_modification,omitempty"`
	AdverseEvents    string `json:"adverse_events,omitempty"`
	ToxicityGrade    *int   `json:"toxicity_grade,omitempty"`
}

// MedicationData mirrors the Medication record fields.
type MedicationData struct {
	GenericName string `json:"generic_name,omitempty"`
	BrandName   string `json:"brand_name,omitempty"`
	Dose        string `json:"dose,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
	Route       string `json:"route,omitempty"`
	Indication  string `json:"indication,omitempty"`
	Status      string `json:"status,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// Key returns the medication de-duplication key.
func (m MedicationData) Key() string {
	return MedicationKey(m.GenericName, m.Dose, m.Frequency)
}

// LabResult is a single lab value reported in a document.
type LabResult struct {
	Name           string `json:"name"`
	Value          string `json:"value,omitempty"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
	Flag           string `json:"flag,omitempty"`
	Date           string `json:"date,omitempty"`
}

// IsParsed reports whether the payload came from a parsed response rather than the raw fallback.
func (e *ExtractedData) IsParsed() bool {
	return e != nil && e.RawResponse == ""
}

// SectionFields flattens a section struct into its non-empty scalar fields, keyed by JSON name.
// Nested arrays and objects are skipped.
func SectionFields(section any) map[string]string {
	out := map[string]string{}
	if section == nil {
		return out
	}
	data, err := json.Marshal(section)
	if err != nil {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return out
	}
	for k, v := range m {
		switch x := v.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				out[k] = s
			}
		case float64:
			if x != 0 {
				out[k] = *CanonicalValue(x)
			}
		case bool:
			out[k] = *CanonicalValue(x)
		}
	}
	return out
}

// ParseExtraction decodes a provider response into ExtractedData.
// Markdown fences and surrounding prose are tolerated. On failure the returned
// payload carries the raw text in RawResponse and the error wraps ErrParse.
func ParseExtraction(raw string, kind DocumentKind) (*ExtractedData, error) {
	fallback := &ExtractedData{
		SchemaVersion: ExtractionSchemaVersion,
		DocumentKind:  kind,
		RawResponse:   raw,
	}

	body, err := ExtractJSON(raw, '{', '}')
	if err != nil {
		return fallback, err
	}

	data, notes, err := decodeExtraction([]byte(body))
	if err != nil {
		return fallback, fmt.Errorf("%w: %v", ErrParse, err)
	}
	data.SchemaVersion = ExtractionSchemaVersion
	if data.DocumentKind == "" {
		data.DocumentKind = kind
	}
	data.RawResponse = ""
	data.ValidationErrors = append(notes, ValidateExtraction([]byte(body))...)
	return data, nil
}

// maxFieldRepairs bounds the decode/repair loop in decodeExtraction.
const maxFieldRepairs = 64

// decodeExtraction decodes body into ExtractedData, coercing mistyped scalar
// fields where the intent is clear and dropping the ones that cannot be
// coerced. Each repair is reported as a note. Only a body that is not a JSON
// object fails.
func decodeExtraction(body []byte) (*ExtractedData, []string, error) {
	var data ExtractedData
	err := json.Unmarshal(body, &data)
	if err == nil {
		return &data, nil, nil
	}

	var doc map[string]any
	if jsonErr := json.Unmarshal(body, &doc); jsonErr != nil {
		return nil, nil, err
	}

	var notes []string
	for range maxFieldRepairs {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || typeErr.Field == "" {
			return nil, notes, err
		}
		if !repairPath(doc, strings.Split(typeErr.Field, "."), "", typeErr.Type, &notes) {
			// Nothing left to change; keep what decoded around the bad field.
			notes = append(notes, typeErr.Field+": "+typeErr.Error())
			return &data, notes, nil
		}

		fixed, mErr := json.Marshal(doc)
		if mErr != nil {
			return nil, notes, mErr
		}
		data = ExtractedData{}
		if err = json.Unmarshal(fixed, &data); err == nil {
			return &data, notes, nil
		}
	}
	notes = append(notes, "too many mistyped fields; remaining ones left unset")
	return &data, notes, nil
}

// repairPath walks path through node, fitting every value found at its end
// to t. Arrays on the way apply the repair to each element. It reports
// whether anything changed.
func repairPath(node any, path []string, at string, t reflect.Type, notes *[]string) bool {
	switch n := node.(type) {
	case []any:
		changed := false
		for _, el := range n {
			if repairPath(el, path, at, t, notes) {
				changed = true
			}
		}
		return changed
	case map[string]any:
		if len(path) == 0 {
			return false
		}
		key := path[0]
		v, ok := n[key]
		if !ok {
			return false
		}
		if len(path) > 1 {
			return repairPath(v, path[1:], at+key+".", t, notes)
		}
		fitted, keep, note := fitValue(key, v, t)
		if note == "" {
			return false
		}
		*notes = append(*notes, at+key+": "+note)
		if keep {
			n[key] = fitted
		} else {
			delete(n, key)
		}
		return true
	}
	return false
}

// fitValue coerces v to the Go type t. An empty note means v already fits.
func fitValue(key string, v any, t reflect.Type) (fitted any, keep bool, note string) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if v == nil {
		return nil, false, ""
	}

	switch t.Kind() {
	case reflect.String:
		switch x := v.(type) {
		case string:
			return x, true, ""
		case float64, bool:
			return *CanonicalValue(x), true, jsonKind(x) + " coerced to string"
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch x := v.(type) {
		case float64:
			if x == math.Trunc(x) {
				return x, true, ""
			}
			return math.Round(x), true, "fractional number rounded"
		case string:
			if n, ok := looseInt(key, x); ok {
				return float64(n), true, fmt.Sprintf("string %q coerced to integer", x)
			}
		}
	case reflect.Float32, reflect.Float64:
		if x, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(x, "%")), 64); err == nil {
				return f, true, fmt.Sprintf("string %q coerced to number", x)
			}
		}
	case reflect.Slice:
		if x, ok := v.(string); ok && t.Elem().Kind() == reflect.String {
			return []any{x}, true, "string wrapped in a list"
		}
	case reflect.Struct:
		if items, ok := v.([]any); ok {
			kept := items[:0]
			for _, item := range items {
				if _, isObj := item.(map[string]any); isObj {
					kept = append(kept, item)
				}
			}
			if len(kept) < len(items) {
				return kept, true, fmt.Sprintf("dropped %d non-object entries", len(items)-len(kept))
			}
		}
	}
	return nil, false, fmt.Sprintf("dropped %s value, expected %s", jsonKind(v), t.Kind())
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "null"
}

// looseInt reads integers written as text, such as "2", "Cycle 2" or "Grade 3".
// Toxicity grades must be valid CTCAE grades.
func looseInt(key, s string) (int, bool) {
	if key == "toxicity_grade" {
		g, err := ParseCTCAEGrade(s)
		return g, err == nil
	}
	digits := strings.TrimLeftFunc(strings.TrimSpace(s), func(r rune) bool { return !unicode.IsDigit(r) })
	end := strings.IndexFunc(digits, func(r rune) bool { return !unicode.IsDigit(r) })
	if end >= 0 {
		digits = digits[:end]
	}
	n, err := strconv.Atoi(digits)
	return n, err == nil
}

// ExtractJSON returns the outermost JSON value delimited by open/close in s,
// after stripping markdown code fences.
func ExtractJSON(s string, open, close byte) (string, error) {
	s = StripCodeFences(s)
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON %c...%c found in response", ErrParse, open, close)
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("%w: response is not valid JSON", ErrParse)
	}
	return candidate, nil
}

// StripCodeFences removes a surrounding ```json ... ``` block if present.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
