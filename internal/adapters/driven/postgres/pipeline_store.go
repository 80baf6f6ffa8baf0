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
var (
	_ driven.ProcessingLogStore   = (*ProcessingLogStore)(nil)
	_ driven.TimelineStore        = (*TimelineStore)(nil)
	_ driven.ClinicalSectionStore = (*ClinicalSectionStore)(nil)
)

// ProcessingLogStore implements driven.ProcessingLogStore using PostgreSQL
type ProcessingLogStore struct {
	db *DB
}

// NewProcessingLogStore creates a new ProcessingLogStore
func NewProcessingLogStore(db *DB) *ProcessingLogStore {
	return &ProcessingLogStore{db: db}
}

// Append inserts a log entry
func (s *ProcessingLogStore) Append(ctx context.Context, entry *domain.ProcessingLog) error {
	tokens, err := json.Marshal(entry.TokensUsed)
	if err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO processing_logs (
			id, document_id, patient_id, provider, model, mode, status,
			tokens_used, duration_ms, error_kind, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.DocumentID,
		entry.PatientID,
		entry.Provider,
		entry.Model,
		string(entry.Mode),
		string(entry.Status),
		tokens,
		entry.DurationMs,
		entry.ErrorKind,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	return err
}

// ListByDocument returns a document's log entries, oldest first
func (s *ProcessingLogStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.ProcessingLog, error) {
	query := `
		SELECT id, document_id, patient_id, provider, model, mode, status,
			   tokens_used, duration_ms, error_kind, error_message, created_at
		FROM processing_logs
		WHERE document_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ProcessingLog
	for rows.Next() {
		var entry domain.ProcessingLog
		var mode, status string
		var tokens []byte
		err := rows.Scan(
			&entry.ID,
			&entry.DocumentID,
			&entry.PatientID,
			&entry.Provider,
			&entry.Model,
			&mode,
			&status,
			&tokens,
			&entry.DurationMs,
			&entry.ErrorKind,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entry.Mode = domain.ProcessingMode(mode)
		entry.Status = domain.ProcessingStatus(status)
		if len(tokens) > 0 {
			if err := json.Unmarshal(tokens, &entry.TokensUsed); err != nil {
				return nil, fmt.Errorf("%w: processing log %s: %v", domain.ErrParse, entry.ID, err)
			}
		}
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TimelineStore implements driven.TimelineStore using PostgreSQL
type TimelineStore struct {
	db *DB
}

// NewTimelineStore creates a new TimelineStore
func NewTimelineStore(db *DB) *TimelineStore {
	return &TimelineStore{db: db}
}

// ReplaceForDocument swaps a document's events in one transaction
func (s *TimelineStore) ReplaceForDocument(ctx context.Context, documentID string, events []*domain.TimelineEvent) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM timeline_events WHERE document_id = $1`, documentID); err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO timeline_events (id, patient_id, document_id, event_date, event_type, title, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			_, err := stmt.ExecContext(ctx,
				e.ID,
				e.PatientID,
				documentID,
				e.EventDate,
				e.EventType,
				e.Title,
				e.Description,
				e.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert timeline event %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// ListByPatient returns a patient's events ordered by date
func (s *TimelineStore) ListByPatient(ctx context.Context, patientID string) ([]*domain.TimelineEvent, error) {
	query := `
		SELECT id, patient_id, document_id, event_date, event_type, title, description, created_at
		FROM timeline_events
		WHERE patient_id = $1
		ORDER BY event_date ASC, created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TimelineEvent
	for rows.Next() {
		var e domain.TimelineEvent
		err := rows.Scan(
			&e.ID,
			&e.PatientID,
			&e.DocumentID,
			&e.EventDate,
			&e.EventType,
			&e.Title,
			&e.Description,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteByDocument removes a document's events
func (s *TimelineStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM timeline_events WHERE document_id = $1`, documentID)
	return err
}

// ClinicalSectionStore implements driven.ClinicalSectionStore using PostgreSQL
type ClinicalSectionStore struct {
	db *DB
}

// NewClinicalSectionStore creates a new ClinicalSectionStore
func NewClinicalSectionStore(db *DB) *ClinicalSectionStore {
	return &ClinicalSectionStore{db: db}
}

// Upsert creates or replaces the section for (patient, kind)
func (s *ClinicalSectionStore) Upsert(ctx context.Context, section *domain.ClinicalSection) error {
	if section.UpdatedAt.IsZero() {
		section.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO clinical_sections (patient_id, kind, summary, source_document_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id, kind) DO UPDATE SET
			summary = EXCLUDED.summary,
			source_document_id = EXCLUDED.source_document_id,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		section.PatientID,
		string(section.Kind),
		section.Summary,
		section.SourceDocumentID,
		section.UpdatedAt,
	)
	return err
}

// Get retrieves the section for (patient, kind)
func (s *ClinicalSectionStore) Get(ctx context.Context, patientID string, kind domain.DocumentKind) (*domain.ClinicalSection, error) {
	query := `
		SELECT patient_id, kind, summary, source_document_id, updated_at
		FROM clinical_sections
		WHERE patient_id = $1 AND kind = $2
	`
	var section domain.ClinicalSection
	var k string
	err := s.db.QueryRowContext(ctx, query, patientID, string(kind)).Scan(
		&section.PatientID,
		&k,
		&section.Summary,
		&section.SourceDocumentID,
		&section.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s section for patient %s", domain.ErrNotFound, kind, patientID)
	}
	if err != nil {
		return nil, err
	}
	section.Kind = domain.DocumentKind(k)
	return &section, nil
}
