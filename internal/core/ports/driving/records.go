package driving

import (
	"context"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// FieldEdit is a manual change to one field of a clinical record
type FieldEdit struct {
	RecordType domain.RecordType `json:"record_type" validate:"required"`
	RecordID   string            `json:"record_id" validate:"required"`
	FieldName  string            `json:"field_name" validate:"required"`
	Value      *string           `json:"value"`
	EditedBy   string            `json:"edited_by" validate:"required"`
	Reason     string            `json:"reason,omitempty" validate:"max=500"`
}

// EditResult reports the outcome of a manual edit
type EditResult struct {
	Record  domain.ClinicalRecord `json:"record"`
	Version *domain.VersionRecord `json:"version,omitempty"`
	Changed bool                  `json:"changed"`
}

// ClinicalEditor applies manual edits with version tracking
type ClinicalEditor interface {
	// UpdateField sets a field, recording a version and manual provenance.
	// An unchanged value is a no-op.
	UpdateField(ctx context.Context, edit FieldEdit) (*EditResult, error)

	// DeleteRecord removes a record and purges its history
	DeleteRecord(ctx context.Context, recordType domain.RecordType, recordID string) error
}

// VersionService exposes the audit trail
type VersionService interface {
	// History returns versions for a record, newest first
	History(ctx context.Context, recordType domain.RecordType, recordID, fieldName string) ([]*domain.VersionRecord, error)

	// PatientHistory returns versions across record types for a patient, newest first
	PatientHistory(ctx context.Context, patientID string, limit int) ([]*domain.VersionRecord, error)

	// UndoLastEdit reverts the single step recorded by versionID
	UndoLastEdit(ctx context.Context, versionID, actor, reason string) (*domain.VersionRecord, error)
}
