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
var _ driven.DocumentStore = (*DocumentStore)(nil)

const documentColumns = `
	id, patient_id, storage_key, mime_type, kind, display_name,
	processing_status, processing_error, vectorize_status,
	extracted_data, raw_extraction, medical_highlight,
	tokens_used, provider, model,
	created_at, updated_at, started_at, completed_at`

// DocumentStore implements driven.DocumentStore using PostgreSQL
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Save creates or updates a document
func (s *DocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	var extracted []byte
	if doc.ExtractedData != nil {
		var err error
		if extracted, err = json.Marshal(doc.ExtractedData); err != nil {
			return fmt.Errorf("marshal extracted data: %w", err)
		}
	}
	tokens, err := json.Marshal(doc.TokensUsed)
	if err != nil {
		return fmt.Errorf("marshal token usage: %w", err)
	}

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			mime_type = EXCLUDED.mime_type,
			kind = EXCLUDED.kind,
			display_name = EXCLUDED.display_name,
			processing_status = EXCLUDED.processing_status,
			processing_error = EXCLUDED.processing_error,
			vectorize_status = EXCLUDED.vectorize_status,
			extracted_data = EXCLUDED.extracted_data,
			raw_extraction = EXCLUDED.raw_extraction,
			medical_highlight = EXCLUDED.medical_highlight,
			tokens_used = EXCLUDED.tokens_used,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = s.db.ExecContext(ctx, query,
		doc.ID,
		doc.PatientID,
		doc.StorageKey,
		doc.MimeType,
		string(doc.Kind),
		doc.DisplayName,
		string(doc.ProcessingStatus),
		NullString(doc.ProcessingError),
		string(doc.VectorizeStatus),
		nullJSON(extracted),
		doc.RawExtraction,
		doc.MedicalHighlight,
		tokens,
		doc.Provider,
		doc.Model,
		doc.CreatedAt,
		doc.UpdatedAt,
		NullTime(doc.StartedAt),
		NullTime(doc.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

// Get retrieves a document by ID
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes a document
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return nil
}

// ListByStatus returns documents in a state last updated before the cutoff, oldest first
func (s *DocumentStore) ListByStatus(ctx context.Context, status domain.ProcessingStatus, updatedBefore time.Time, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE processing_status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, string(status), updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var kind, status, vectorize string
	var processingError sql.NullString
	var extracted, tokens []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&doc.ID,
		&doc.PatientID,
		&doc.StorageKey,
		&doc.MimeType,
		&kind,
		&doc.DisplayName,
		&status,
		&processingError,
		&vectorize,
		&extracted,
		&doc.RawExtraction,
		&doc.MedicalHighlight,
		&tokens,
		&doc.Provider,
		&doc.Model,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Kind = domain.DocumentKind(kind)
	doc.ProcessingStatus = domain.ProcessingStatus(status)
	doc.ProcessingError = StringPtr(processingError)
	doc.VectorizeStatus = domain.VectorizeStatus(vectorize)
	doc.StartedAt = TimePtr(startedAt)
	doc.CompletedAt = TimePtr(completedAt)

	if len(extracted) > 0 {
		var data domain.ExtractedData
		if err := json.Unmarshal(extracted, &data); err != nil {
			return nil, fmt.Errorf("%w: document %s extracted data: %v", domain.ErrParse, doc.ID, err)
		}
		doc.ExtractedData = &data
	}
	if len(tokens) > 0 {
		if err := json.Unmarshal(tokens, &doc.TokensUsed); err != nil {
			return nil, fmt.Errorf("%w: document %s token usage: %v", domain.ErrParse, doc.ID, err)
		}
	}

	return &doc, nil
}

// nullJSON maps an empty payload to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
