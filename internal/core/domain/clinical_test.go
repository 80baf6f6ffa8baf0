package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	for _, rt := range AllRecordTypes {
		rec, err := NewRecord(rt, "pat-1")
		require.NoError(t, err)
		assert.Equal(t, rt, rec.Type())
		assert.Equal(t, "pat-1", rec.Meta().PatientID)
		assert.NotEmpty(t, rec.Meta().ID)
		assert.NotNil(t, rec.Meta().Provenance)
		assert.NotEmpty(t, rec.FieldNames())
	}

	_, err := NewRecord("allergy", "pat-1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRecordFieldAccess(t *testing.T) {
	d := &Diagnosis{}

	v, err := d.Field("primary_cancer_type")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, d.SetField("primary_cancer_type", StringPtr("Breast Cancer")))
	v, err = d.Field("primary_cancer_type")
	require.NoError(t, err)
	assert.Equal(t, "Breast Cancer", *v)
	assert.Equal(t, "Breast Cancer", d.PrimaryCancerType)

	require.NoError(t, d.SetField("primary_cancer_type", nil))
	assert.Empty(t, d.PrimaryCancerType)

	_, err = d.Field("shoe_size")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, d.SetField("shoe_size", nil), ErrInvalidInput)
}

func TestTreatmentCycleFields(t *testing.T) {
	c := &TreatmentCycle{}

	require.NoError(t, c.SetField("cycle_number", StringPtr("2")))
	require.NoError(t, c.SetField("toxicity_grade", StringPtr("Grade 3")))
	assert.Equal(t, 2, c.CycleNumber)
	require.NotNil(t, c.ToxicityGrade)
	assert.Equal(t, 3, *c.ToxicityGrade)

	g, err := c.Field("toxicity_grade")
	require.NoError(t, err)
	assert.Equal(t, "3", *g)

	assert.ErrorIs(t, c.SetField("toxicity_grade", StringPtr("6")), ErrInvalidInput)
	assert.ErrorIs(t, c.SetField("cycle_number", StringPtr("zero")), ErrInvalidInput)
	assert.Contains(t, c.FieldNames(), "toxicity_grade")
}

func TestParseCTCAEGrade(t *testing.T) {
	for in, want := range map[string]int{"1": 1, " G2 ": 2, "grade 5": 5, "Grade 4": 4} {
		got, err := ParseCTCAEGrade(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"0", "6", "severe", ""} {
		_, err := ParseCTCAEGrade(in)
		assert.ErrorIs(t, err, ErrInvalidInput, in)
	}
}

func TestMedicationKey(t *testing.T) {
	a := &Medication{GenericName: "Tamoxifen", Dose: "20 mg", Frequency: "Daily"}
	b := &Medication{GenericName: " tamoxifen ", Dose: "20  MG", Frequency: "daily"}
	c := &Medication{GenericName: "Tamoxifen", Dose: "10 mg", Frequency: "Daily"}

	assert.Equal(t, a.DedupKey(), b.DedupKey())
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestSelectCurrent_Treatment(t *testing.T) {
	now := time.Now()
	older := &Treatment{RecordMeta: RecordMeta{ID: "t1", CreatedAt: now}, Status: "completed", StartDate: "2024-01-01"}
	newer := &Treatment{RecordMeta: RecordMeta{ID: "t2", CreatedAt: now}, Status: "completed", StartDate: "2024-06-01"}
	active := &Treatment{RecordMeta: RecordMeta{ID: "t3", CreatedAt: now}, Status: "Active", StartDate: "2023-01-01"}

	assert.Nil(t, SelectCurrent(RecordTypeTreatment, nil))
	assert.Equal(t, "t2", SelectCurrent(RecordTypeTreatment, []ClinicalRecord{older, newer}).Meta().ID)
	assert.Equal(t, "t3", SelectCurrent(RecordTypeTreatment, []ClinicalRecord{older, newer, active}).Meta().ID)
}

func TestSelectCurrent_Diagnosis(t *testing.T) {
	now := time.Now()
	resolved := &Diagnosis{RecordMeta: RecordMeta{ID: "d1", CreatedAt: now.Add(time.Hour)}, Status: "resolved"}
	open := &Diagnosis{RecordMeta: RecordMeta{ID: "d2", CreatedAt: now}}

	assert.Equal(t, "d2", SelectCurrent(RecordTypeDiagnosis, []ClinicalRecord{resolved, open}).Meta().ID)
	assert.Equal(t, "d1", SelectCurrent(RecordTypeDiagnosis, []ClinicalRecord{resolved}).Meta().ID)
}

func TestSelectCurrent_MostRecentlyUpdated(t *testing.T) {
	now := time.Now()
	created := &Staging{RecordMeta: RecordMeta{ID: "s1", CreatedAt: now.Add(time.Hour), UpdatedAt: now.Add(time.Hour)}}
	edited := &Staging{RecordMeta: RecordMeta{ID: "s0", CreatedAt: now, UpdatedAt: now.Add(2 * time.Hour)}}
	assert.Equal(t, "s0", SelectCurrent(RecordTypeStaging, []ClinicalRecord{created, edited}).Meta().ID)

	tied := &Staging{RecordMeta: RecordMeta{ID: "s2", CreatedAt: now.Add(time.Minute), UpdatedAt: now.Add(2 * time.Hour)}}
	assert.Equal(t, "s2", SelectCurrent(RecordTypeStaging, []ClinicalRecord{edited, tied}).Meta().ID,
		"equal UpdatedAt falls back to the later CreatedAt")

	treatments := []ClinicalRecord{
		&Treatment{RecordMeta: RecordMeta{ID: "t1", UpdatedAt: now.Add(time.Hour)}, StartDate: "2024-01-01"},
		&Treatment{RecordMeta: RecordMeta{ID: "t2", UpdatedAt: now}, StartDate: "2024-06-01"},
	}
	assert.Equal(t, "t2", SelectCurrent(RecordTypeTreatment, treatments).Meta().ID, "start date outranks update time")
}

func TestCloneRecord(t *testing.T) {
	grade := 2
	orig := &TreatmentCycle{
		RecordMeta:    RecordMeta{ID: "c1", PatientID: "p1", ParentID: "t1", Version: 4, Provenance: ProvenanceMap{"cycle_number": {Source: "doc-1"}}},
		CycleNumber:   1,
		ToxicityGrade: &grade,
	}

	clone := CloneRecord(orig).(*TreatmentCycle)
	*clone.ToxicityGrade = 5
	clone.Provenance["x"] = ProvenanceEntry{Source: SourceManualEntry}

	assert.Equal(t, 2, *orig.ToxicityGrade)
	assert.Len(t, orig.Provenance, 1)
	assert.Equal(t, "t1", clone.ParentID)
	assert.Equal(t, int64(4), clone.Version)
}
