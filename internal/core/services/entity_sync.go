package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// EntitySynchronizer merges extracted field values into the canonical current
// clinical records for a patient, updating provenance as it goes.
//
// Concepts are synchronized as independent writes. A failure stops the run
// and leaves earlier concepts committed.
type EntitySynchronizer struct {
	records       driven.ClinicalStore
	recorder      *VersionRecorder
	policy        domain.OverwritePolicy
	versionSynced bool
	logger        *slog.Logger
}

// EntitySynchronizerConfig holds dependencies for EntitySynchronizer.
type EntitySynchronizerConfig struct {
	Records  driven.ClinicalStore
	Recorder *VersionRecorder // required when VersionSyncedFields is set
	Policy   domain.OverwritePolicy
	// VersionSyncedFields records a VersionRecord for every value a sync changes
	VersionSyncedFields bool
	Logger              *slog.Logger
}

// NewEntitySynchronizer creates a new entity synchronizer.
func NewEntitySynchronizer(cfg EntitySynchronizerConfig) *EntitySynchronizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy == "" {
		policy = domain.OverwriteAlways
	}
	return &EntitySynchronizer{
		records:       cfg.Records,
		recorder:      cfg.Recorder,
		policy:        policy,
		versionSynced: cfg.VersionSyncedFields && cfg.Recorder != nil,
		logger:        logger,
	}
}

// Policy returns the configured overwrite policy.
func (s *EntitySynchronizer) Policy() domain.OverwritePolicy {
	return s.policy
}

// SyncInput is one document's extraction to merge.
type SyncInput struct {
	PatientID  string
	DocumentID string
	Provider   string
	Data       *domain.ExtractedData
}

// Sync runs diagnosis, staging, treatment (with cycles) and medications in order.
// It returns the results gathered before any error.
func (s *EntitySynchronizer) Sync(ctx context.Context, in SyncInput) ([]domain.SyncResult, error) {
	if in.Data == nil || !in.Data.IsParsed() {
		return nil, nil
	}
	if in.PatientID == "" || in.DocumentID == "" {
		return nil, fmt.Errorf("%w: patient and document ids are required for sync", domain.ErrInvalidInput)
	}

	var results []domain.SyncResult
	steps := []func(context.Context, SyncInput) ([]domain.SyncResult, error){
		s.SyncDiagnosis,
		s.SyncStaging,
		s.SyncTreatment,
		s.SyncMedications,
	}
	for _, step := range steps {
		res, err := step(ctx, in)
		results = append(results, res...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// SyncDiagnosis updates the patient's current diagnosis.
func (s *EntitySynchronizer) SyncDiagnosis(ctx context.Context, in SyncInput) ([]domain.SyncResult, error) {
	if in.Data.Diagnosis == nil {
		return nil, nil
	}
	return s.one(ctx, in, syncTarget{
		recordType: domain.RecordTypeDiagnosis,
		fields:     domain.SectionFields(in.Data.Diagnosis),
		pick:       currentOf(domain.RecordTypeDiagnosis),
	})
}

// SyncStaging updates the patient's current TNM staging.
func (s *EntitySynchronizer) SyncStaging(ctx context.Context, in SyncInput) ([]domain.SyncResult, error) {
	if in.Data.Staging == nil {
		return nil, nil
	}
	return s.one(ctx, in, syncTarget{
		recordType: domain.RecordTypeStaging,
		fields:     domain.SectionFields(in.Data.Staging),
		pick:       currentOf(domain.RecordTypeStaging),
	})
}

// SyncTreatment updates the current treatment, then its cycles by cycle number.
func (s *EntitySynchronizer) SyncTreatment(ctx context.Context, in SyncInput) ([]domain.SyncResult, error) {
	t := in.Data.Treatment
	if t == nil {
		return nil, nil
	}

	results, err := s.one(ctx, in, syncTarget{
		recordType: domain.RecordTypeTreatment,
		fields:     domain.SectionFields(t),
		pick:       currentOf(domain.RecordTypeTreatment),
	})
	if err != nil || len(results) == 0 {
		return results, err
	}
	treatmentID := results[0].RecordID

	for _, c := range t.Cycles {
		if c.CycleNumber < 1 {
			continue
		}
		fields := domain.SectionFields(c)
		if c.ToxicityGrade != nil {
			fields["toxicity_grade"] = strconv.Itoa(*c.ToxicityGrade)
		}
		number := c.CycleNumber
		res, err := s.one(ctx, in, syncTarget{
			recordType: domain.RecordTypeTreatmentCycle,
			parentID:   treatmentID,
			fields:     fields,
			pick: func(recs []domain.ClinicalRecord) domain.ClinicalRecord {
				for _, r := range recs {
					if cy, ok := r.(*domain.TreatmentCycle); ok && cy.CycleNumber == number {
						return r
					}
				}
				return nil
			},
		})
		results = append(results, res...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// SyncMedications de-duplicates by generic name, dose and frequency:
// a match is updated in place, anything else is inserted.
func (s *EntitySynchronizer) SyncMedications(ctx context.Context, in SyncInput) ([]domain.SyncResult, error) {
	var results []domain.SyncResult
	seen := map[string]bool{}
	for _, med := range in.Data.Medications {
		if med.GenericName == "" {
			continue
		}
		key := med.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		res, err := s.one(ctx, in, syncTarget{
			recordType: domain.RecordTypeMedication,
			fields:     domain.SectionFields(med),
			pick: func(recs []domain.ClinicalRecord) domain.ClinicalRecord {
				for _, r := range recs {
					if m, ok := r.(*domain.Medication); ok && m.DedupKey() == key {
						return r
					}
				}
				return nil
			},
		})
		results = append(results, res...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// syncTarget describes one record to find-or-create and merge into.
type syncTarget struct {
	recordType domain.RecordType
	parentID   string
	fields     map[string]string
	pick       func([]domain.ClinicalRecord) domain.ClinicalRecord
}

func currentOf(t domain.RecordType) func([]domain.ClinicalRecord) domain.ClinicalRecord {
	return func(recs []domain.ClinicalRecord) domain.ClinicalRecord {
		return domain.SelectCurrent(t, recs)
	}
}

// one synchronizes a single record, retrying on optimistic-concurrency conflicts.
func (s *EntitySynchronizer) one(ctx context.Context, in SyncInput, target syncTarget) ([]domain.SyncResult, error) {
	if len(target.fields) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		res, err := s.apply(ctx, in, target)
		if err == nil {
			return []domain.SyncResult{*res}, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("sync %s: %w", target.recordType, err)
		}
		lastErr = err
		s.logger.Debug("sync hit concurrent write, retrying",
			"record_type", target.recordType,
			"document_id", in.DocumentID,
			"attempt", attempt+1,
		)
	}
	return nil, fmt.Errorf("sync %s: %w", target.recordType, lastErr)
}

func (s *EntitySynchronizer) apply(ctx context.Context, in SyncInput, target syncTarget) (*domain.SyncResult, error) {
	existing, err := s.records.List(ctx, driven.RecordFilter{
		PatientID: in.PatientID,
		Type:      target.recordType,
		ParentID:  target.parentID,
	})
	if err != nil {
		return nil, err
	}

	names := sortedFieldNames(target.fields)
	cur := target.pick(existing)

	if cur == nil {
		rec, err := domain.NewRecord(target.recordType, in.PatientID)
		if err != nil {
			return nil, err
		}
		rec.Meta().ParentID = target.parentID
		res := &domain.SyncResult{RecordType: target.recordType, RecordID: rec.Meta().ID, Created: true}
		tracked := map[string]domain.TrackedValue{}
		for _, name := range names {
			v := target.fields[name]
			if err := rec.SetField(name, &v); err != nil {
				res.SkippedFields = append(res.SkippedFields, name)
				continue
			}
			tracked[name] = domain.TrackedValue{Value: v, Source: in.DocumentID, Confidence: in.Data.Confidence}
			res.UpdatedFields = append(res.UpdatedFields, name)
		}
		rec.Meta().Provenance = domain.TrackFields(rec.Meta().Provenance, tracked)
		if err := s.records.Create(ctx, rec); err != nil {
			return nil, err
		}
		s.logger.Info("created clinical record",
			"record_type", target.recordType,
			"record_id", rec.Meta().ID,
			"document_id", in.DocumentID,
			"fields", len(res.UpdatedFields),
		)
		return res, nil
	}

	meta := cur.Meta()
	res := &domain.SyncResult{RecordType: target.recordType, RecordID: meta.ID}
	tracked := map[string]domain.TrackedValue{}
	var changes []domain.VersionInput

	for _, name := range names {
		v := target.fields[name]
		prevSource := meta.Provenance.SourceOf(name)
		if !s.policy.Allows(prevSource, in.DocumentID) {
			res.SkippedFields = append(res.SkippedFields, name)
			continue
		}
		old, err := cur.Field(name)
		if err != nil {
			res.SkippedFields = append(res.SkippedFields, name)
			continue
		}
		if domain.EqualValues(old, &v) && prevSource == in.DocumentID {
			continue
		}
		if err := cur.SetField(name, &v); err != nil {
			res.SkippedFields = append(res.SkippedFields, name)
			continue
		}
		tracked[name] = domain.TrackedValue{Value: v, Source: in.DocumentID, Confidence: in.Data.Confidence}
		res.UpdatedFields = append(res.UpdatedFields, name)
		if !domain.EqualValues(old, &v) {
			changes = append(changes, domain.VersionInput{
				RecordType:     target.recordType,
				RecordID:       meta.ID,
				PatientID:      meta.PatientID,
				FieldName:      name,
				OldValue:       old,
				NewValue:       v,
				EditedBy:       domain.SystemActor(in.Provider),
				Reason:         "extracted from document " + in.DocumentID,
				OriginalSource: prevSource,
				OverrideSource: in.DocumentID,
			})
		}
	}

	if len(res.SkippedFields) > 0 {
		s.logger.Info("overwrite policy skipped fields",
			"record_type", target.recordType,
			"record_id", meta.ID,
			"policy", s.policy,
			"fields", res.SkippedFields,
		)
	}
	if len(tracked) == 0 {
		return res, nil
	}

	meta.Provenance = domain.TrackFields(meta.Provenance, tracked)
	meta.UpdatedAt = time.Now()
	if err := s.records.Update(ctx, cur); err != nil {
		return nil, err
	}

	if s.versionSynced {
		for _, c := range changes {
			if _, err := s.recorder.RecordVersion(ctx, c); err != nil {
				s.logger.Warn("failed to record synced field version",
					"record_id", meta.ID, "field", c.FieldName, "error", err)
			}
		}
	}
	return res, nil
}

func sortedFieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
