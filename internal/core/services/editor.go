package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.ClinicalEditor = (*ClinicalEditor)(nil)

// ClinicalEditor applies manual edits to clinical records with version tracking.
type ClinicalEditor struct {
	records  driven.ClinicalStore
	recorder *VersionRecorder
	logger   *slog.Logger
}

// ClinicalEditorConfig holds dependencies for ClinicalEditor.
type ClinicalEditorConfig struct {
	Records  driven.ClinicalStore
	Recorder *VersionRecorder
	Logger   *slog.Logger
}

// NewClinicalEditor creates a new clinical editor.
func NewClinicalEditor(cfg ClinicalEditorConfig) *ClinicalEditor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ClinicalEditor{
		records:  cfg.Records,
		recorder: cfg.Recorder,
		logger:   logger,
	}
}

// UpdateField sets one field. The provenance source becomes manual_override,
// or manual_entry when the field had no prior value.
func (e *ClinicalEditor) UpdateField(ctx context.Context, edit driving.FieldEdit) (*driving.EditResult, error) {
	if err := domain.Validate(edit); err != nil {
		return nil, err
	}
	if !edit.RecordType.IsValid() {
		return nil, fmt.Errorf("%w: unknown record type %q", domain.ErrInvalidInput, edit.RecordType)
	}

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		rec, err := e.records.Get(ctx, edit.RecordType, edit.RecordID)
		if err != nil {
			return nil, err
		}

		old, err := rec.Field(edit.FieldName)
		if err != nil {
			return nil, err
		}
		if domain.EqualValues(old, edit.Value) {
			return &driving.EditResult{Record: rec, Changed: false}, nil
		}

		meta := rec.Meta()
		originalSource := meta.Provenance.SourceOf(edit.FieldName)
		source := domain.SourceManualOverride
		if old == nil {
			source = domain.SourceManualEntry
		}

		if err := rec.SetField(edit.FieldName, edit.Value); err != nil {
			return nil, err
		}
		meta.Provenance = domain.TrackField(meta.Provenance, edit.FieldName,
			provenanceValue(edit.Value), source, nil)
		meta.UpdatedAt = time.Now()

		if err := e.records.Update(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("write edit: %w", err)
		}

		v, err := e.recorder.RecordVersion(ctx, domain.VersionInput{
			RecordType:     edit.RecordType,
			RecordID:       edit.RecordID,
			PatientID:      meta.PatientID,
			FieldName:      edit.FieldName,
			OldValue:       old,
			NewValue:       edit.Value,
			EditedBy:       edit.EditedBy,
			Reason:         edit.Reason,
			OriginalSource: originalSource,
			OverrideSource: source,
		})
		if err != nil {
			e.logger.Error("edit applied but version append failed",
				"record_type", edit.RecordType,
				"record_id", edit.RecordID,
				"field", edit.FieldName,
				"old_value", domain.Deref(old),
				"new_value", domain.Deref(edit.Value),
				"edited_by", edit.EditedBy,
				"error", err,
			)
			return nil, fmt.Errorf("record edit version: %w", err)
		}

		e.logger.Info("clinical record edited",
			"record_type", edit.RecordType,
			"record_id", edit.RecordID,
			"field", edit.FieldName,
			"edited_by", edit.EditedBy,
			"source", source,
		)
		return &driving.EditResult{Record: rec, Version: v, Changed: true}, nil
	}
	return nil, lastErr
}

// DeleteRecord removes a record and purges its history. Deleting a treatment
// also removes its cycles.
func (e *ClinicalEditor) DeleteRecord(ctx context.Context, recordType domain.RecordType, recordID string) error {
	rec, err := e.records.Get(ctx, recordType, recordID)
	if err != nil {
		return err
	}

	if recordType == domain.RecordTypeTreatment {
		cycles, err := e.records.List(ctx, driven.RecordFilter{
			PatientID: rec.Meta().PatientID,
			Type:      domain.RecordTypeTreatmentCycle,
			ParentID:  recordID,
		})
		if err != nil {
			return err
		}
		for _, c := range cycles {
			if err := e.deleteOne(ctx, c.Type(), c.Meta().ID); err != nil {
				return err
			}
		}
	}

	return e.deleteOne(ctx, recordType, recordID)
}

func (e *ClinicalEditor) deleteOne(ctx context.Context, recordType domain.RecordType, recordID string) error {
	if err := e.records.Delete(ctx, recordType, recordID); err != nil {
		return err
	}
	if _, err := e.recorder.PurgeHistory(ctx, recordType, recordID); err != nil {
		return err
	}
	return nil
}
