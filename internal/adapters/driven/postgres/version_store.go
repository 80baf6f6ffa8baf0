package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VersionStore = (*VersionStore)(nil)

const versionColumns = `
	id, record_type, record_id, patient_id, field_name, old_value, new_value,
	edited_by, edited_at, edit_reason, original_source, override_source`

// VersionStore implements the append-only version log using PostgreSQL
type VersionStore struct {
	db *DB
}

// NewVersionStore creates a new VersionStore
func NewVersionStore(db *DB) *VersionStore {
	return &VersionStore{db: db}
}

// Append inserts version records in one transaction
func (s *VersionStore) Append(ctx context.Context, versions ...*domain.VersionRecord) error {
	if len(versions) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO record_versions (`+versionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, v := range versions {
			_, err := stmt.ExecContext(ctx,
				v.ID,
				string(v.RecordType),
				v.RecordID,
				v.PatientID,
				v.FieldName,
				NullString(v.OldValue),
				NullString(v.NewValue),
				v.EditedBy,
				v.EditedAt,
				v.EditReason,
				v.OriginalSource,
				v.OverrideSource,
			)
			if err != nil {
				return classify(err, "insert version "+v.ID)
			}
		}
		return nil
	})
}

// Get retrieves a version record by ID
func (s *VersionStore) Get(ctx context.Context, id string) (*domain.VersionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM record_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: version %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListByRecord returns versions for a record, newest first.
// Rows sharing a timestamp fall back to insertion order.
func (s *VersionStore) ListByRecord(ctx context.Context, recordType domain.RecordType, recordID, fieldName string) ([]*domain.VersionRecord, error) {
	query := `SELECT ` + versionColumns + ` FROM record_versions WHERE record_type = $1 AND record_id = $2`
	args := []any{string(recordType), recordID}
	if fieldName != "" {
		query += ` AND field_name = $3`
		args = append(args, fieldName)
	}
	query += ` ORDER BY edited_at DESC, seq DESC`

	return s.query(ctx, query, args...)
}

// ListByPatient returns versions across record types for a patient, newest first
func (s *VersionStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]*domain.VersionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + versionColumns + `
		FROM record_versions
		WHERE patient_id = $1
		ORDER BY edited_at DESC, seq DESC
		LIMIT $2
	`
	return s.query(ctx, query, patientID, limit)
}

// DeleteByRecord purges history for a deleted record
func (s *VersionStore) DeleteByRecord(ctx context.Context, recordType domain.RecordType, recordID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM record_versions WHERE record_type = $1 AND record_id = $2`,
		string(recordType), recordID,
	)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s *VersionStore) query(ctx context.Context, query string, args ...any) ([]*domain.VersionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.VersionRecord
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanVersion(row rowScanner) (*domain.VersionRecord, error) {
	var v domain.VersionRecord
	var recordType string
	var oldValue, newValue sql.NullString

	err := row.Scan(
		&v.ID,
		&recordType,
		&v.RecordID,
		&v.PatientID,
		&v.FieldName,
		&oldValue,
		&newValue,
		&v.EditedBy,
		&v.EditedAt,
		&v.EditReason,
		&v.OriginalSource,
		&v.OverrideSource,
	)
	if err != nil {
		return nil, err
	}
	v.RecordType = domain.RecordType(recordType)
	v.OldValue = StringPtr(oldValue)
	v.NewValue = StringPtr(newValue)
	return &v, nil
}
