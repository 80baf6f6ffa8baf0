package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.VersionService = (*VersionRecorder)(nil)

// maxWriteAttempts bounds optimistic-concurrency retries on record writes.
const maxWriteAttempts = 3

// VersionRecorder appends immutable change records and undoes single steps.
type VersionRecorder struct {
	versions driven.VersionStore
	records  driven.ClinicalStore
	logger   *slog.Logger
}

// VersionRecorderConfig holds dependencies for VersionRecorder.
type VersionRecorderConfig struct {
	Versions driven.VersionStore
	Records  driven.ClinicalStore
	Logger   *slog.Logger
}

// NewVersionRecorder creates a new version recorder.
func NewVersionRecorder(cfg VersionRecorderConfig) *VersionRecorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionRecorder{
		versions: cfg.Versions,
		records:  cfg.Records,
		logger:   logger,
	}
}

// RecordVersion appends one change. Values are stored in canonical string form.
func (r *VersionRecorder) RecordVersion(ctx context.Context, in domain.VersionInput) (*domain.VersionRecord, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}
	v := domain.NewVersionRecord(in)
	if err := r.versions.Append(ctx, v); err != nil {
		return nil, fmt.Errorf("append version: %w", err)
	}
	return v, nil
}

// RecordVersions appends one change per field, sharing base's edit metadata.
func (r *VersionRecorder) RecordVersions(ctx context.Context, base domain.VersionInput, changes []domain.FieldChange) ([]*domain.VersionRecord, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	out := make([]*domain.VersionRecord, 0, len(changes))
	for _, c := range changes {
		in := base
		in.FieldName = c.FieldName
		in.OldValue = c.OldValue
		in.NewValue = c.NewValue
		if err := domain.Validate(in); err != nil {
			return nil, err
		}
		out = append(out, domain.NewVersionRecord(in))
	}
	if err := r.versions.Append(ctx, out...); err != nil {
		return nil, fmt.Errorf("append versions: %w", err)
	}
	return out, nil
}

// History returns a record's versions newest first, optionally for one field.
func (r *VersionRecorder) History(ctx context.Context, recordType domain.RecordType, recordID, fieldName string) ([]*domain.VersionRecord, error) {
	if !recordType.IsValid() {
		return nil, fmt.Errorf("%w: unknown record type %q", domain.ErrInvalidInput, recordType)
	}
	return r.versions.ListByRecord(ctx, recordType, recordID, fieldName)
}

// PatientHistory returns a patient's versions across record types, newest first.
func (r *VersionRecorder) PatientHistory(ctx context.Context, patientID string, limit int) ([]*domain.VersionRecord, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", domain.ErrInvalidInput)
	}
	return r.versions.ListByPatient(ctx, patientID, limit)
}

// UndoLastEdit reverts the single step recorded by versionID.
//
// The field is set back to the version's old value and a new version is
// appended whose old value is the field's current value. This is not a
// restore to an arbitrary snapshot: undoing an older version only reverts
// that one field to what it was before that edit.
func (r *VersionRecorder) UndoLastEdit(ctx context.Context, versionID, actor, reason string) (*domain.VersionRecord, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	target, err := r.versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "rollback of version " + target.ID
	}

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		rec, err := r.records.Get(ctx, target.RecordType, target.RecordID)
		if err != nil {
			return nil, err
		}

		current, err := rec.Field(target.FieldName)
		if err != nil {
			return nil, err
		}
		meta := rec.Meta()
		originalSource := meta.Provenance.SourceOf(target.FieldName)

		if err := rec.SetField(target.FieldName, target.OldValue); err != nil {
			return nil, err
		}
		meta.Provenance = domain.TrackField(meta.Provenance, target.FieldName,
			provenanceValue(target.OldValue), domain.SourceManualOverride, nil)

		if err := r.records.Update(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				lastErr = err
				r.logger.Debug("rollback hit concurrent write, retrying",
					"version_id", versionID, "attempt", attempt+1)
				continue
			}
			return nil, fmt.Errorf("write rollback: %w", err)
		}

		v := domain.NewVersionRecord(domain.VersionInput{
			RecordType:     target.RecordType,
			RecordID:       target.RecordID,
			PatientID:      meta.PatientID,
			FieldName:      target.FieldName,
			OldValue:       current,
			NewValue:       target.OldValue,
			EditedBy:       actor,
			Reason:         reason,
			OriginalSource: originalSource,
			OverrideSource: domain.SourceManualOverride,
		})
		if err := r.versions.Append(ctx, v); err != nil {
			r.logger.Error("rollback applied but version append failed",
				"version_id", versionID, "record_id", target.RecordID, "error", err)
			return nil, fmt.Errorf("append rollback version: %w", err)
		}

		r.logger.Info("rolled back field",
			"record_type", target.RecordType,
			"record_id", target.RecordID,
			"field", target.FieldName,
			"version_id", versionID,
			"actor", actor,
		)
		return v, nil
	}
	return nil, lastErr
}

// Rollback is UndoLastEdit under its historical name.
func (r *VersionRecorder) Rollback(ctx context.Context, versionID, actor, reason string) (*domain.VersionRecord, error) {
	return r.UndoLastEdit(ctx, versionID, actor, reason)
}

// PurgeHistory deletes a record's history. Only entity deletion calls this.
func (r *VersionRecorder) PurgeHistory(ctx context.Context, recordType domain.RecordType, recordID string) (int, error) {
	n, err := r.versions.DeleteByRecord(ctx, recordType, recordID)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	r.logger.Info("purged version history", "record_type", recordType, "record_id", recordID, "count", n)
	return n, nil
}

// provenanceValue converts a canonical field value for storage in a ProvenanceEntry.
func provenanceValue(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
