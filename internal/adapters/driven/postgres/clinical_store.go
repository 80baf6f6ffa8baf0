package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ClinicalStore = (*ClinicalStore)(nil)

// ClinicalStore implements driven.ClinicalStore using PostgreSQL.
// Each record is stored as JSONB next to the columns used for lookup;
// the version column is the compare-and-set token.
type ClinicalStore struct {
	db *DB
}

// NewClinicalStore creates a new ClinicalStore
func NewClinicalStore(db *DB) *ClinicalStore {
	return &ClinicalStore{db: db}
}

// Get retrieves a record by type and ID
func (s *ClinicalStore) Get(ctx context.Context, recordType domain.RecordType, id string) (domain.ClinicalRecord, error) {
	query := `
		SELECT record_type, version, data, created_at, updated_at
		FROM clinical_records
		WHERE record_type = $1 AND id = $2
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, string(recordType), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, recordType, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns records matching the filter, oldest first
func (s *ClinicalStore) List(ctx context.Context, filter driven.RecordFilter) ([]domain.ClinicalRecord, error) {
	query := `
		SELECT record_type, version, data, created_at, updated_at
		FROM clinical_records
		WHERE 1 = 1
	`
	var args []any
	argIndex := 1

	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIndex)
		args = append(args, filter.PatientID)
		argIndex++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND record_type = $%d", argIndex)
		args = append(args, string(filter.Type))
		argIndex++
	}
	if filter.ParentID != "" {
		query += fmt.Sprintf(" AND parent_id = $%d", argIndex)
		args = append(args, filter.ParentID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ClinicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a new record with version 1
func (s *ClinicalStore) Create(ctx context.Context, rec domain.ClinicalRecord) error {
	meta := rec.Meta()
	now := time.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	meta.Version = 1

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rec.Type(), err)
	}

	query := `
		INSERT INTO clinical_records (id, record_type, patient_id, parent_id, version, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (record_type, id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		meta.ID,
		string(rec.Type()),
		meta.PatientID,
		meta.ParentID,
		meta.Version,
		data,
		meta.CreatedAt,
		meta.UpdatedAt,
	)
	if err != nil {
		return classify(err, "insert "+string(rec.Type())+" "+meta.ID)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("%w: %s %s exists", domain.ErrConflict, rec.Type(), meta.ID)
	}
	return nil
}

// Update writes rec only if the stored version equals rec's version.
// On success rec carries the incremented version.
func (s *ClinicalStore) Update(ctx context.Context, rec domain.ClinicalRecord) error {
	meta := rec.Meta()
	expected := meta.Version

	meta.Version = expected + 1
	meta.UpdatedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		meta.Version = expected
		return fmt.Errorf("marshal %s: %w", rec.Type(), err)
	}

	query := `
		UPDATE clinical_records
		SET data = $1, version = $2, parent_id = $3, updated_at = $4
		WHERE record_type = $5 AND id = $6 AND version = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		data,
		meta.Version,
		meta.ParentID,
		meta.UpdatedAt,
		string(rec.Type()),
		meta.ID,
		expected,
	)
	if err != nil {
		meta.Version = expected
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		meta.Version = expected
		return err
	}
	if rows == 1 {
		return nil
	}

	meta.Version = expected
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM clinical_records WHERE record_type = $1 AND id = $2)`,
		string(rec.Type()), meta.ID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, rec.Type(), meta.ID)
	}
	return fmt.Errorf("%w: %s %s changed since version %d", domain.ErrConflict, rec.Type(), meta.ID, expected)
}

// Delete removes a record
func (s *ClinicalStore) Delete(ctx context.Context, recordType domain.RecordType, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM clinical_records WHERE record_type = $1 AND id = $2`,
		string(recordType), id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, recordType, id)
	}
	return nil
}

func scanRecord(row rowScanner) (domain.ClinicalRecord, error) {
	var recordType string
	var version int64
	var data []byte
	var createdAt, updatedAt time.Time

	if err := row.Scan(&recordType, &version, &data, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec, err := domain.DecodeRecord(domain.RecordType(recordType), data)
	if err != nil {
		return nil, err
	}
	// Columns are authoritative over the JSON copy.
	meta := rec.Meta()
	meta.Version = version
	meta.CreatedAt = createdAt
	meta.UpdatedAt = updatedAt
	return rec, nil
}
