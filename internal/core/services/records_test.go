package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

type recordsFixture struct {
	records  *mocks.MockClinicalStore
	versions *mocks.MockVersionStore
	recorder *VersionRecorder
	editor   *ClinicalEditor
}

func newRecordsFixture() *recordsFixture {
	records := mocks.NewMockClinicalStore()
	versions := mocks.NewMockVersionStore()
	recorder := NewVersionRecorder(VersionRecorderConfig{Versions: versions, Records: records})
	return &recordsFixture{
		records:  records,
		versions: versions,
		recorder: recorder,
		editor:   NewClinicalEditor(ClinicalEditorConfig{Records: records, Recorder: recorder}),
	}
}

func (f *recordsFixture) synchronizer(policy domain.OverwritePolicy, versioned bool) *EntitySynchronizer {
	return NewEntitySynchronizer(EntitySynchronizerConfig{
		Records:             f.records,
		Recorder:            f.recorder,
		Policy:              policy,
		VersionSyncedFields: versioned,
	})
}

func (f *recordsFixture) only(t *testing.T, rt domain.RecordType, patientID string) domain.ClinicalRecord {
	t.Helper()
	recs, err := f.records.List(context.Background(), driven.RecordFilter{PatientID: patientID, Type: rt})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func fieldValue(t *testing.T, rec domain.ClinicalRecord, name string) string {
	t.Helper()
	v, err := rec.Field(name)
	require.NoError(t, err)
	return domain.Deref(v)
}

func breastCancerExtraction() *domain.ExtractedData {
	return &domain.ExtractedData{
		SchemaVersion: domain.ExtractionSchemaVersion,
		Diagnosis: &domain.DiagnosisData{
			PrimaryCancerType: "Breast Cancer",
			Histology:         "Invasive ductal carcinoma",
			Laterality:        "left",
		},
		Staging: &domain.StagingData{TCategory: "T2", NCategory: "N1", MCategory: "M0", OverallStage: "IIB"},
		Treatment: &domain.TreatmentData{
			Regimen: "AC-T",
			Status:  "active",
			Cycles: []domain.CycleData{
				{CycleNumber: 1, StartDate: "2026-01-05"},
				{CycleNumber: 2, StartDate: "2026-01-26", AdverseEvents: "neutropenia", ToxicityGrade: intPtr(3)},
			},
		},
		Medications: []domain.MedicationData{
			{GenericName: "Doxorubicin", Dose: "60 mg/m2", Frequency: "q21d"},
			{GenericName: "doxorubicin ", Dose: "60 mg/m2", Frequency: "Q21D"},
			{GenericName: "Ondansetron", Dose: "8 mg", Frequency: "PRN"},
		},
	}
}

func intPtr(v int) *int { return &v }

func syncInput(docID string, data *domain.ExtractedData) SyncInput {
	return SyncInput{PatientID: "patient-1", DocumentID: docID, Provider: "openai", Data: data}
}

// --- Entity synchronizer ---

func TestSync_CreatesRecordsWithDocumentProvenance(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer("", false)

	results, err := s.Sync(context.Background(), syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)

	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")
	assert.Equal(t, "Breast Cancer", fieldValue(t, dx, "primary_cancer_type"))
	for _, field := range []string{"primary_cancer_type", "histology", "laterality"} {
		assert.Equal(t, "doc-1", dx.Meta().Provenance[field].Source, field)
	}

	assert.Equal(t, 1, f.records.Count(domain.RecordTypeStaging))
	assert.Equal(t, 1, f.records.Count(domain.RecordTypeTreatment))
	assert.Equal(t, 2, f.records.Count(domain.RecordTypeTreatmentCycle))
	assert.Equal(t, 2, f.records.Count(domain.RecordTypeMedication), "duplicate medication keys collapse")

	// diagnosis, staging, treatment, 2 cycles, 2 medications
	require.Len(t, results, 7)
	for _, r := range results {
		assert.True(t, r.Created)
	}
	assert.Equal(t, domain.RecordTypeDiagnosis, results[0].RecordType)
	assert.Empty(t, f.versions.All(), "creations are not versioned")
}

func TestSync_CyclesBelongToCurrentTreatment(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer("", false)
	_, err := s.Sync(context.Background(), syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)

	tx := f.only(t, domain.RecordTypeTreatment, "patient-1")
	cycles, err := f.records.List(context.Background(), driven.RecordFilter{
		PatientID: "patient-1", Type: domain.RecordTypeTreatmentCycle, ParentID: tx.Meta().ID,
	})
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	for _, c := range cycles {
		cy := c.(*domain.TreatmentCycle)
		if cy.CycleNumber == 2 {
			require.NotNil(t, cy.ToxicityGrade)
			assert.Equal(t, 3, *cy.ToxicityGrade)
		}
	}
}

func TestSync_Idempotent(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer("", true)
	ctx := context.Background()

	_, err := s.Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	first := domain.CloneRecord(f.only(t, domain.RecordTypeDiagnosis, "patient-1"))

	results, err := s.Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)

	assert.Equal(t, 1, f.records.Count(domain.RecordTypeDiagnosis))
	assert.Equal(t, 1, f.records.Count(domain.RecordTypeTreatment))
	assert.Equal(t, 2, f.records.Count(domain.RecordTypeTreatmentCycle))
	assert.Equal(t, 2, f.records.Count(domain.RecordTypeMedication))

	second := f.only(t, domain.RecordTypeDiagnosis, "patient-1")
	assert.Equal(t, first.Meta().Provenance, second.Meta().Provenance)
	assert.Equal(t, first.Meta().Version, second.Meta().Version, "no write when nothing changed")
	for _, r := range results {
		assert.False(t, r.Created)
		assert.Empty(t, r.UpdatedFields)
	}
	assert.Empty(t, f.versions.All())
}

func TestSync_LaterDocumentOverwritesManualOverride(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer(domain.OverwriteAlways, false)
	ctx := context.Background()

	_, err := s.Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")

	edit, err := f.editor.UpdateField(ctx, driving.FieldEdit{
		RecordType: domain.RecordTypeDiagnosis,
		RecordID:   dx.Meta().ID,
		FieldName:  "primary_cancer_type",
		Value:      domain.StringPtr("X"),
		EditedBy:   "admin@example.org",
	})
	require.NoError(t, err)
	require.True(t, edit.Changed)
	assert.Equal(t, "Breast Cancer", domain.Deref(edit.Version.OldValue))
	assert.Equal(t, "X", domain.Deref(edit.Version.NewValue))
	dx = f.only(t, domain.RecordTypeDiagnosis, "patient-1")
	assert.Equal(t, domain.SourceManualOverride, dx.Meta().Provenance["primary_cancer_type"].Source)

	_, err = s.Sync(ctx, syncInput("doc-2", breastCancerExtraction()))
	require.NoError(t, err)

	dx = f.only(t, domain.RecordTypeDiagnosis, "patient-1")
	assert.Equal(t, "Breast Cancer", fieldValue(t, dx, "primary_cancer_type"))
	assert.Equal(t, "doc-2", dx.Meta().Provenance["primary_cancer_type"].Source)
	assert.Equal(t, "doc-2", dx.Meta().Provenance["histology"].Source)
}

func TestSync_PoliciesProtectManualValues(t *testing.T) {
	for _, policy := range []domain.OverwritePolicy{domain.OverwriteNever, domain.OverwriteRequireHigherAuthority} {
		t.Run(string(policy), func(t *testing.T) {
			f := newRecordsFixture()
			s := f.synchronizer(policy, false)
			ctx := context.Background()

			_, err := s.Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
			require.NoError(t, err)
			dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")
			_, err = f.editor.UpdateField(ctx, driving.FieldEdit{
				RecordType: domain.RecordTypeDiagnosis,
				RecordID:   dx.Meta().ID,
				FieldName:  "primary_cancer_type",
				Value:      domain.StringPtr("X"),
				EditedBy:   "admin@example.org",
			})
			require.NoError(t, err)

			results, err := s.Sync(ctx, syncInput("doc-2", breastCancerExtraction()))
			require.NoError(t, err)

			dx = f.only(t, domain.RecordTypeDiagnosis, "patient-1")
			assert.Equal(t, "X", fieldValue(t, dx, "primary_cancer_type"))
			assert.Equal(t, domain.SourceManualOverride, dx.Meta().Provenance["primary_cancer_type"].Source)
			assert.Equal(t, "doc-2", dx.Meta().Provenance["histology"].Source, "unprotected fields still update")
			assert.Contains(t, results[0].SkippedFields, "primary_cancer_type")
		})
	}
}

func TestSync_VersionsSyncedChanges(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer("", true)
	ctx := context.Background()

	_, err := s.Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)

	next := breastCancerExtraction()
	next.Diagnosis.Histology = "Invasive lobular carcinoma"
	_, err = s.Sync(ctx, syncInput("doc-2", next))
	require.NoError(t, err)

	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")
	history, err := f.recorder.History(ctx, domain.RecordTypeDiagnosis, dx.Meta().ID, "histology")
	require.NoError(t, err)
	require.Len(t, history, 1)
	v := history[0]
	assert.Equal(t, "Invasive ductal carcinoma", domain.Deref(v.OldValue))
	assert.Equal(t, "Invasive lobular carcinoma", domain.Deref(v.NewValue))
	assert.Equal(t, "system:openai", v.EditedBy)
	assert.Equal(t, "doc-1", v.OriginalSource)
	assert.Equal(t, "doc-2", v.OverrideSource)

	// unchanged values re-sourced to doc-2 write provenance but no version
	all, err := f.recorder.History(ctx, domain.RecordTypeDiagnosis, dx.Meta().ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "doc-2", dx.Meta().Provenance["primary_cancer_type"].Source)
}

func TestSync_RetriesOnConflict(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer("", false)
	ctx := context.Background()
	_, err := s.Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")

	bumped := false
	f.records.UpdateFn = func(rec domain.ClinicalRecord) error {
		if !bumped && rec.Type() == domain.RecordTypeDiagnosis {
			bumped = true
			f.records.BumpVersion(rec.Type(), rec.Meta().ID)
		}
		return nil
	}

	next := breastCancerExtraction()
	next.Diagnosis.Grade = "3"
	_, err = s.Sync(ctx, syncInput("doc-2", next))
	require.NoError(t, err)

	assert.True(t, bumped)
	dx = f.only(t, domain.RecordTypeDiagnosis, "patient-1")
	assert.Equal(t, "3", fieldValue(t, dx, "grade"))
	assert.Equal(t, "doc-2", dx.Meta().Provenance["grade"].Source)
}

func TestSync_FailFastKeepsEarlierConcepts(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer("", false)
	storeDown := errors.New("connection refused")
	f.records.ListFn = func(filter driven.RecordFilter) ([]domain.ClinicalRecord, error) {
		if filter.Type == domain.RecordTypeTreatment {
			return nil, storeDown
		}
		return nil, nil
	}

	results, err := s.Sync(context.Background(), syncInput("doc-1", breastCancerExtraction()))

	require.ErrorIs(t, err, storeDown)
	assert.Len(t, results, 2, "diagnosis and staging committed")
	assert.Equal(t, 1, f.records.Count(domain.RecordTypeDiagnosis))
	assert.Zero(t, f.records.Count(domain.RecordTypeMedication))
}

func TestSync_SkipsUnparsedPayload(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer("", false)

	results, err := s.Sync(context.Background(), syncInput("doc-1", &domain.ExtractedData{RawResponse: "not json"}))

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, f.records.Count(domain.RecordTypeDiagnosis))
}

func TestSync_InvalidToxicityGradeSkipped(t *testing.T) {
	f := newRecordsFixture()
	s := f.synchronizer("", false)
	data := &domain.ExtractedData{
		Treatment: &domain.TreatmentData{
			Regimen: "FOLFOX",
			Cycles:  []domain.CycleData{{CycleNumber: 1, ToxicityGrade: intPtr(7)}},
		},
	}

	results, err := s.Sync(context.Background(), syncInput("doc-1", data))

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[1].SkippedFields, "toxicity_grade")
}

// --- Version recorder and editor ---

func TestEditor_TwoEditsTwoVersionsNewestFirst(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()
	_, err := f.synchronizer("", false).Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")

	for _, value := range []string{"Grade 2", "Grade 3"} {
		_, err := f.editor.UpdateField(ctx, driving.FieldEdit{
			RecordType: domain.RecordTypeDiagnosis,
			RecordID:   dx.Meta().ID,
			FieldName:  "grade",
			Value:      domain.StringPtr(value),
			EditedBy:   "dr.lee",
		})
		require.NoError(t, err)
	}

	history, err := f.recorder.History(ctx, domain.RecordTypeDiagnosis, dx.Meta().ID, "grade")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Grade 3", domain.Deref(history[0].NewValue))
	assert.Equal(t, "Grade 2", domain.Deref(history[0].OldValue))
	assert.Nil(t, history[1].OldValue)
	assert.Equal(t, domain.SourceManualEntry, history[1].OverrideSource, "first value on an empty field is an entry")
	assert.Equal(t, domain.SourceManualOverride, history[0].OverrideSource)
}

func TestEditor_UnchangedValueIsNoop(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()
	_, err := f.synchronizer("", false).Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")

	res, err := f.editor.UpdateField(ctx, driving.FieldEdit{
		RecordType: domain.RecordTypeDiagnosis,
		RecordID:   dx.Meta().ID,
		FieldName:  "primary_cancer_type",
		Value:      domain.StringPtr("Breast Cancer"),
		EditedBy:   "dr.lee",
	})

	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Nil(t, res.Version)
	assert.Empty(t, f.versions.All())
}

func TestEditor_VersionAppendFailureIsLogged(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()
	_, err := f.synchronizer("", false).Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")

	var logs bytes.Buffer
	editor := NewClinicalEditor(ClinicalEditorConfig{
		Records:  f.records,
		Recorder: f.recorder,
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	})
	f.versions.AppendFn = func([]*domain.VersionRecord) error { return errors.New("disk full") }

	_, err = editor.UpdateField(ctx, driving.FieldEdit{
		RecordType: domain.RecordTypeDiagnosis,
		RecordID:   dx.Meta().ID,
		FieldName:  "histology",
		Value:      domain.StringPtr("IDC"),
		EditedBy:   "dr.lee",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "IDC", fieldValue(t, f.only(t, domain.RecordTypeDiagnosis, "patient-1"), "histology"),
		"the record write is already committed")
	line := logs.String()
	assert.Contains(t, line, "level=ERROR")
	assert.Contains(t, line, `old_value="Invasive ductal carcinoma"`)
	assert.Contains(t, line, "new_value=IDC")
	assert.Contains(t, line, "edited_by=dr.lee")
}

func TestEditor_Validation(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()

	_, err := f.editor.UpdateField(ctx, driving.FieldEdit{RecordType: domain.RecordTypeDiagnosis, RecordID: "r1", FieldName: "grade"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.editor.UpdateField(ctx, driving.FieldEdit{RecordType: "surgery", RecordID: "r1", FieldName: "grade", EditedBy: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.editor.UpdateField(ctx, driving.FieldEdit{RecordType: domain.RecordTypeDiagnosis, RecordID: "missing", FieldName: "grade", EditedBy: "a"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecorder_UndoLastEdit(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()
	_, err := f.synchronizer("", false).Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")

	edit, err := f.editor.UpdateField(ctx, driving.FieldEdit{
		RecordType: domain.RecordTypeDiagnosis,
		RecordID:   dx.Meta().ID,
		FieldName:  "primary_cancer_type",
		Value:      domain.StringPtr("X"),
		EditedBy:   "admin",
	})
	require.NoError(t, err)
	before := len(f.versions.All())

	v, err := f.recorder.UndoLastEdit(ctx, edit.Version.ID, "admin", "")
	require.NoError(t, err)

	assert.Len(t, f.versions.All(), before+1, "exactly one new version")
	assert.Equal(t, "Breast Cancer", domain.Deref(v.NewValue))
	assert.Equal(t, "X", domain.Deref(v.OldValue))
	assert.Equal(t, domain.Deref(edit.Version.OldValue), domain.Deref(v.NewValue))
	assert.Equal(t, "rollback of version "+edit.Version.ID, v.EditReason)

	dx = f.only(t, domain.RecordTypeDiagnosis, "patient-1")
	assert.Equal(t, "Breast Cancer", fieldValue(t, dx, "primary_cancer_type"))
	assert.Equal(t, domain.SourceManualOverride, dx.Meta().Provenance["primary_cancer_type"].Source)

	history, err := f.recorder.History(ctx, domain.RecordTypeDiagnosis, dx.Meta().ID, "primary_cancer_type")
	require.NoError(t, err)
	assert.Equal(t, v.ID, history[0].ID)
}

func TestRecorder_UndoRetriesOnConflict(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()
	_, err := f.synchronizer("", false).Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	dx := f.only(t, domain.RecordTypeDiagnosis, "patient-1")
	edit, err := f.editor.UpdateField(ctx, driving.FieldEdit{
		RecordType: domain.RecordTypeDiagnosis, RecordID: dx.Meta().ID,
		FieldName: "laterality", Value: domain.StringPtr("right"), EditedBy: "admin",
	})
	require.NoError(t, err)

	conflicts := 0
	f.records.UpdateFn = func(rec domain.ClinicalRecord) error {
		if conflicts < 2 {
			conflicts++
			return domain.ErrConflict
		}
		return nil
	}

	before := len(f.versions.All())
	_, err = f.recorder.Rollback(ctx, edit.Version.ID, "admin", "wrong side")
	require.NoError(t, err)
	assert.Equal(t, 2, conflicts)
	assert.Len(t, f.versions.All(), before+1, "conflicts must not duplicate versions")

	f.records.UpdateFn = func(domain.ClinicalRecord) error { return domain.ErrConflict }
	_, err = f.recorder.Rollback(ctx, edit.Version.ID, "admin", "")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRecorder_UndoErrors(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()

	_, err := f.recorder.UndoLastEdit(ctx, "missing", "admin", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.recorder.UndoLastEdit(ctx, "v1", "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRecorder_RecordVersionsAndPatientHistory(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()
	base := domain.VersionInput{
		RecordType: domain.RecordTypeStaging,
		RecordID:   "stg-1",
		PatientID:  "patient-1",
		EditedBy:   "dr.lee",
		Reason:     "restaged after surgery",
	}

	out, err := f.recorder.RecordVersions(ctx, base, []domain.FieldChange{
		{FieldName: "t_category", OldValue: "T2", NewValue: "T1c"},
		{FieldName: "overall_stage", OldValue: nil, NewValue: "IA"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, v := range out {
		assert.Equal(t, "restaged after surgery", v.EditReason)
	}

	_, err = f.recorder.RecordVersion(ctx, domain.VersionInput{
		RecordType: domain.RecordTypeMedication, RecordID: "med-1", PatientID: "patient-1",
		FieldName: "dose", NewValue: 50, EditedBy: "dr.lee",
	})
	require.NoError(t, err)

	history, err := f.recorder.PatientHistory(ctx, "patient-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, "50", domain.Deref(history[0].NewValue))

	_, err = f.recorder.RecordVersion(ctx, domain.VersionInput{RecordType: domain.RecordTypeStaging})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.recorder.PatientHistory(ctx, "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.recorder.History(ctx, "surgery", "x", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEditor_DeleteTreatmentCascades(t *testing.T) {
	f := newRecordsFixture()
	ctx := context.Background()
	_, err := f.synchronizer("", true).Sync(ctx, syncInput("doc-1", breastCancerExtraction()))
	require.NoError(t, err)
	tx := f.only(t, domain.RecordTypeTreatment, "patient-1")
	_, err = f.editor.UpdateField(ctx, driving.FieldEdit{
		RecordType: domain.RecordTypeTreatment, RecordID: tx.Meta().ID,
		FieldName: "status", Value: domain.StringPtr("completed"), EditedBy: "dr.lee",
	})
	require.NoError(t, err)

	require.NoError(t, f.editor.DeleteRecord(ctx, domain.RecordTypeTreatment, tx.Meta().ID))

	assert.Zero(t, f.records.Count(domain.RecordTypeTreatment))
	assert.Zero(t, f.records.Count(domain.RecordTypeTreatmentCycle))
	history, err := f.recorder.History(ctx, domain.RecordTypeTreatment, tx.Meta().ID, "")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, 1, f.records.Count(domain.RecordTypeDiagnosis))

	assert.ErrorIs(t, f.editor.DeleteRecord(ctx, domain.RecordTypeTreatment, tx.Meta().ID), domain.ErrNotFound)
}
