package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RecordType identifies a clinical entity variant.
type RecordType string

const (
	RecordTypeDiagnosis      RecordType = "diagnosis"
	RecordTypeStaging        RecordType = "staging"
	RecordTypeTreatment      RecordType = "treatment"
	RecordTypeTreatmentCycle RecordType = "treatment_cycle"
	RecordTypeMedication     RecordType = "medication"
)

// AllRecordTypes lists the variants in synchronization order.
var AllRecordTypes = []RecordType{
	RecordTypeDiagnosis,
	RecordTypeStaging,
	RecordTypeTreatment,
	RecordTypeTreatmentCycle,
	RecordTypeMedication,
}

// IsValid reports whether t is a known record type.
func (t RecordType) IsValid() bool {
	for _, rt := range AllRecordTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// ClinicalRecord is implemented by every patient-scoped clinical entity.
// Field values are exchanged in canonical string form; nil means null.
type ClinicalRecord interface {
	Type() RecordType
	Meta() *RecordMeta
	Field(name string) (*string, error)
	SetField(name string, value *string) error
	FieldNames() []string
}

// RecordMeta is the bookkeeping shared by all clinical records.
type RecordMeta struct {
	ID         string        `json:"id"`
	PatientID  string        `json:"patient_id"`
	ParentID   string        `json:"parent_id,omitempty"`
	Provenance ProvenanceMap `json:"provenance"`
	// Version is the optimistic-concurrency token, incremented on every save.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta returns the shared bookkeeping.
func (m *RecordMeta) Meta() *RecordMeta { return m }

// Diagnosis is a patient's cancer diagnosis.
type Diagnosis struct {
	RecordMeta
	PrimaryCancerType string `json:"primary_cancer_type,omitempty"`
	PrimarySite       string `json:"primary_site,omitempty"`
	Histology         string `json:"histology,omitempty"`
	Grade             string `json:"grade,omitempty"`
	Laterality        string `json:"laterality,omitempty"`
	DiagnosisDate     string `json:"diagnosis_date,omitempty"`
	Biomarkers        string `json:"biomarkers,omitempty"`
	Status            string `json:"status,omitempty"`
}

func (d *Diagnosis) Type() RecordType { return RecordTypeDiagnosis }

func (d *Diagnosis) stringFields() map[string]*string {
	return map[string]*string{
		"primary_cancer_type": &d.PrimaryCancerType,
		"primary_site":        &d.PrimarySite,
		"histology":           &d.Histology,
		"grade":               &d.Grade,
		"laterality":          &d.Laterality,
		"diagnosis_date":      &d.DiagnosisDate,
		"biomarkers":          &d.Biomarkers,
		"status":              &d.Status,
	}
}

func (d *Diagnosis) Field(name string) (*string, error) {
	return getString(d.stringFields(), d.Type(), name)
}
func (d *Diagnosis) SetField(name string, v *string) error {
	return setString(d.stringFields(), d.Type(), name, v)
}
func (d *Diagnosis) FieldNames() []string { return sortedKeys(d.stringFields()) }

// Staging holds TNM staging for a diagnosis.
type Staging struct {
	RecordMeta
	StagingSystem        string `json:"staging_system,omitempty"`
	StagingDate          string `json:"staging_date,omitempty"`
	TCategory            string `json:"t_category,omitempty"`
	NCategory            string `json:"n_category,omitempty"`
	MCategory            string `json:"m_category,omitempty"`
	OverallStage         string `json:"overall_stage,omitempty"`
	ClinicalOrPathologic string `json:"clinical_or_pathologic,omitempty"`
}

func (s *Staging) Type() RecordType { return RecordTypeStaging }

func (s *Staging) stringFields() map[string]*string {
	return map[string]*string{
		"staging_system":         &s.StagingSystem,
		"staging_date":           &s.StagingDate,
		"t_category":             &s.TCategory,
		"n_category":             &s.NCategory,
		"m_category":             &s.MCategory,
		"overall_stage":          &s.OverallStage,
		"clinical_or_pathologic": &s.ClinicalOrPathologic,
	}
}

func (s *Staging) Field(name string) (*string, error) {
	return getString(s.stringFields(), s.Type(), name)
}
func (s *Staging) SetField(name string, v *string) error {
	return setString(s.stringFields(), s.Type(), name, v)
}
func (s *Staging) FieldNames() []string { return sortedKeys(s.stringFields()) }

// Treatment statuses.
const (
	TreatmentStatusPlanned      = "planned"
	TreatmentStatusActive       = "active"
	TreatmentStatusCompleted    = "completed"
	TreatmentStatusDiscontinued = "discontinued"
)

// Treatment is a line of therapy.
type Treatment struct {
	RecordMeta
	Regimen   string `json:"regimen,omitempty"`
	Modality  string `json:"modality,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Line      string `json:"line,omitempty"`
	Status    string `json:"status,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Response  string `json:"response,omitempty"`
}

func (t *Treatment) Type() RecordType { return RecordTypeTreatment }

func (t *Treatment) stringFields() map[string]*string {
	return map[string]*string{
		"regimen":    &t.Regimen,
		"modality":   &t.Modality,
		"intent":     &t.Intent,
		"line":       &t.Line,
		"status":     &t.Status,
		"start_date": &t.StartDate,
		"end_date":   &t.EndDate,
		"response":   &t.Response,
	}
}

func (t *Treatment) Field(name string) (*string, error) {
	return getString(t.stringFields(), t.Type(), name)
}
func (t *Treatment) SetField(name string, v *string) error {
	return setString(t.stringFields(), t.Type(), name, v)
}
func (t *Treatment) FieldNames() []string { return sortedKeys(t.stringFields()) }

// TreatmentCycle is one cycle of a treatment. ParentID is the treatment ID.
type TreatmentCycle struct {
	RecordMeta
	CycleNumber      int    `json:"cycle_number"`
	StartDate        string `json:"start_date,omitempty"`
	EndDate          string `json:"end_date,omitempty"`
	DoseModification string `json:"dose_modification,omitempty"`
	AdverseEvents    string `json:"adverse_events,omitempty"`
	// ToxicityGrade is the CTCAE grade, 1 to 5.
	ToxicityGrade *int `json:"toxicity_grade,omitempty"`
}

func (c *TreatmentCycle) Type() RecordType { return RecordTypeTreatmentCycle }

func (c *TreatmentCycle) stringFields() map[string]*string {
	return map[string]*string{
		"start_date":        &c.StartDate,
		"end_date":          &c.EndDate,
		"dose_modification": &c.DoseModification,
		"adverse_events":    &c.AdverseEvents,
	}
}

func (c *TreatmentCycle) Field(name string) (*string, error) {
	switch name {
	case "cycle_number":
		if c.CycleNumber == 0 {
			return nil, nil
		}
		s := strconv.Itoa(c.CycleNumber)
		return &s, nil
	case "toxicity_grade":
		if c.ToxicityGrade == nil {
			return nil, nil
		}
		s := strconv.Itoa(*c.ToxicityGrade)
		return &s, nil
	}
	return getString(c.stringFields(), c.Type(), name)
}

func (c *TreatmentCycle) SetField(name string, v *string) error {
	switch name {
	case "cycle_number":
		if v == nil {
			c.CycleNumber = 0
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(*v))
		if err != nil || n < 1 {
			return fmt.Errorf("%w: cycle_number must be a positive integer", ErrInvalidInput)
		}
		c.CycleNumber = n
		return nil
	case "toxicity_grade":
		if v == nil {
			c.ToxicityGrade = nil
			return nil
		}
		g, err := ParseCTCAEGrade(*v)
		if err != nil {
			return err
		}
		c.ToxicityGrade = &g
		return nil
	}
	return setString(c.stringFields(), c.Type(), name, v)
}

func (c *TreatmentCycle) FieldNames() []string {
	names := append(sortedKeys(c.stringFields()), "cycle_number", "toxicity_grade")
	sort.Strings(names)
	return names
}

// ParseCTCAEGrade parses a CTCAE grade ("3", "Grade 3", "G3") and checks the 1-5 range.
func ParseCTCAEGrade(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "grade")
	s = strings.TrimPrefix(s, "g")
	g, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || g < 1 || g > 5 {
		return 0, fmt.Errorf("%w: CTCAE grade must be 1-5", ErrInvalidInput)
	}
	return g, nil
}

// Medication is a prescribed drug.
type Medication struct {
	RecordMeta
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

func (m *Medication) Type() RecordType { return RecordTypeMedication }

func (m *Medication) stringFields() map[string]*string {
	return map[string]*string{
		"generic_name": &m.GenericName,
		"brand_name":   &m.BrandName,
		"dose":         &m.Dose,
		"frequency":    &m.Frequency,
		"route":        &m.Route,
		"indication":   &m.Indication,
		"status":       &m.Status,
		"start_date":   &m.StartDate,
		"end_date":     &m.EndDate,
	}
}

func (m *Medication) Field(name string) (*string, error) {
	return getString(m.stringFields(), m.Type(), name)
}
func (m *Medication) SetField(name string, v *string) error {
	return setString(m.stringFields(), m.Type(), name, v)
}
func (m *Medication) FieldNames() []string { return sortedKeys(m.stringFields()) }

// DedupKey identifies a medication across extractions: generic name + dose + frequency.
func (m *Medication) DedupKey() string {
	return MedicationKey(m.GenericName, m.Dose, m.Frequency)
}

// MedicationKey normalizes the medication de-duplication key.
func MedicationKey(genericName, dose, frequency string) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(genericName) + "|" + norm(dose) + "|" + norm(frequency)
}

// NewRecord returns an empty record of the given type.
func NewRecord(t RecordType, patientID string) (ClinicalRecord, error) {
	now := time.Now()
	meta := RecordMeta{
		ID:         GenerateID(),
		PatientID:  patientID,
		Provenance: ProvenanceMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	switch t {
	case RecordTypeDiagnosis:
		return &Diagnosis{RecordMeta: meta}, nil
	case RecordTypeStaging:
		return &Staging{RecordMeta: meta}, nil
	case RecordTypeTreatment:
		return &Treatment{RecordMeta: meta}, nil
	case RecordTypeTreatmentCycle:
		return &TreatmentCycle{RecordMeta: meta}, nil
	case RecordTypeMedication:
		return &Medication{RecordMeta: meta}, nil
	}
	return nil, fmt.Errorf("%w: unknown record type %q", ErrInvalidInput, t)
}

// DecodeRecord builds a record of type t from its stored JSON form.
func DecodeRecord(t RecordType, data []byte) (ClinicalRecord, error) {
	rec, err := NewRecord(t, "")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrParse, t, err)
	}
	if rec.Meta().Provenance == nil {
		rec.Meta().Provenance = ProvenanceMap{}
	}
	return rec, nil
}

// CloneRecord returns a deep copy.
func CloneRecord(r ClinicalRecord) ClinicalRecord {
	data, err := json.Marshal(r)
	if err != nil {
		panic(fmt.Sprintf("clone %s: %v", r.Type(), err))
	}
	out, err := DecodeRecord(r.Type(), data)
	if err != nil {
		panic(err.Error())
	}
	return out
}

// SelectCurrent applies the variant-specific rule for the record a sync run updates.
//   - treatment: the active-status record, else the most recently started
//   - diagnosis: the most recently updated non-resolved record, else the most recently updated
//   - staging, treatment_cycle, medication: the most recently updated
//
// Returns nil for an empty slice.
func SelectCurrent(t RecordType, records []ClinicalRecord) ClinicalRecord {
	if len(records) == 0 {
		return nil
	}
	candidates := records
	switch t {
	case RecordTypeTreatment:
		var active []ClinicalRecord
		for _, r := range records {
			if tr, ok := r.(*Treatment); ok && strings.EqualFold(tr.Status, TreatmentStatusActive) {
				active = append(active, r)
			}
		}
		if len(active) > 0 {
			candidates = active
		}
		return latestBy(candidates, func(r ClinicalRecord) string {
			if tr, ok := r.(*Treatment); ok {
				return tr.StartDate
			}
			return ""
		})
	case RecordTypeDiagnosis:
		var open []ClinicalRecord
		for _, r := range records {
			if d, ok := r.(*Diagnosis); ok && !strings.EqualFold(d.Status, "resolved") {
				open = append(open, r)
			}
		}
		if len(open) > 0 {
			candidates = open
		}
	}
	return latestBy(candidates, func(ClinicalRecord) string { return "" })
}

// latestBy picks the record with the greatest key, breaking ties by UpdatedAt,
// then CreatedAt, then ID.
func latestBy(records []ClinicalRecord, key func(ClinicalRecord) string) ClinicalRecord {
	best := records[0]
	for _, r := range records[1:] {
		kb, kr := key(best), key(r)
		bm, rm := best.Meta(), r.Meta()
		switch {
		case kr > kb:
			best = r
		case kr < kb:
		case rm.UpdatedAt.After(bm.UpdatedAt):
			best = r
		case rm.UpdatedAt.Before(bm.UpdatedAt):
		case rm.CreatedAt.After(bm.CreatedAt):
			best = r
		case rm.CreatedAt.Equal(bm.CreatedAt) && rm.ID > bm.ID:
			best = r
		}
	}
	return best
}

func getString(fields map[string]*string, t RecordType, name string) (*string, error) {
	p, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no field %q", ErrInvalidInput, t, name)
	}
	if *p == "" {
		return nil, nil
	}
	v := *p
	return &v, nil
}

func setString(fields map[string]*string, t RecordType, name string, v *string) error {
	p, ok := fields[name]
	if !ok {
		return fmt.Errorf("%w: %s has no field %q", ErrInvalidInput, t, name)
	}
	if v == nil {
		*p = ""
		return nil
	}
	*p = *v
	return nil
}

func sortedKeys(m map[string]*string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
