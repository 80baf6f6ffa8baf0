package driven

import (
	"context"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// RecordFilter narrows a record listing.
type RecordFilter struct {
	PatientID string
	Type      domain.RecordType
	// ParentID limits to children of a record (e.g. cycles of a treatment)
	ParentID string
}

// ClinicalStore persists clinical records (PostgreSQL)
type ClinicalStore interface {
	// Get retrieves a record by type and ID
	Get(ctx context.Context, recordType domain.RecordType, id string) (domain.ClinicalRecord, error)

	// List returns records matching the filter
	List(ctx context.Context, filter RecordFilter) ([]domain.ClinicalRecord, error)

	// Create inserts a new record with version 1
	Create(ctx context.Context, rec domain.ClinicalRecord) error

	// Update writes rec if its stored version still equals rec.Meta().Version,
	// then increments the version. A stale version returns domain.ErrConflict.
	Update(ctx context.Context, rec domain.ClinicalRecord) error

	// Delete removes a record
	Delete(ctx context.Context, recordType domain.RecordType, id string) error
}

// VersionStore persists the append-only version log (PostgreSQL)
type VersionStore interface {
	// Append inserts version records; existing rows are never modified
	Append(ctx context.Context, versions ...*domain.VersionRecord) error

	// Get retrieves a version record by ID
	Get(ctx context.Context, id string) (*domain.VersionRecord, error)

	// ListByRecord returns versions for a record, newest first.
	// An empty fieldName returns all fields.
	ListByRecord(ctx context.Context, recordType domain.RecordType, recordID, fieldName string) ([]*domain.VersionRecord, error)

	// ListByPatient returns versions across record types for a patient, newest first
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*domain.VersionRecord, error)

	// DeleteByRecord purges history for a deleted record
	DeleteByRecord(ctx context.Context, recordType domain.RecordType, recordID string) (int, error)
}
