package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*VectorIndex)(nil)

// VectorIndex implements driven.VectorIndex on the pgvector extension.
// Similarity is cosine; scores are 1 - cosine distance.
type VectorIndex struct {
	db *DB
}

// NewVectorIndex creates a new VectorIndex
func NewVectorIndex(db *DB) *VectorIndex {
	return &VectorIndex{db: db}
}

// Upsert writes chunks in one transaction, replacing rows with the same ID
func (x *VectorIndex) Upsert(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return x.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (id, document_id, patient_id, content, position, start_char, end_char, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				position = EXCLUDED.position,
				start_char = EXCLUDED.start_char,
				end_char = EXCLUDED.end_char,
				embedding = EXCLUDED.embedding
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			if len(c.Embedding) == 0 {
				return fmt.Errorf("%w: chunk %s has no embedding", domain.ErrInvalidInput, c.ID)
			}
			_, err := stmt.ExecContext(ctx,
				c.ID,
				c.DocumentID,
				c.PatientID,
				c.Content,
				c.Position,
				c.StartChar,
				c.EndChar,
				pgvector.NewVector(c.Embedding),
				c.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// Query returns the chunks closest to q.Embedding, optionally scoped to a patient or document
func (x *VectorIndex) Query(ctx context.Context, q domain.VectorQuery) ([]*domain.RankedChunk, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is required", domain.ErrInvalidInput)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultVectorQueryLimit
	}

	where := []string{"1 = 1"}
	args := []any{pgvector.NewVector(q.Embedding)}
	if q.PatientID != "" {
		args = append(args, q.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if q.DocumentID != "" {
		args = append(args, q.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, document_id, patient_id, content, position, start_char, end_char, embedding, created_at,
		       1 - (embedding <=> $1) AS score
		FROM document_chunks
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RankedChunk
	for rows.Next() {
		var c domain.Chunk
		var embedding pgvector.Vector
		var score float64
		err := rows.Scan(
			&c.ID,
			&c.DocumentID,
			&c.PatientID,
			&c.Content,
			&c.Position,
			&c.StartChar,
			&c.EndChar,
			&embedding,
			&c.CreatedAt,
			&score,
		)
		if err != nil {
			return nil, err
		}
		c.Embedding = embedding.Slice()
		out = append(out, &domain.RankedChunk{Chunk: &c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteByDocument removes every chunk of a document
func (x *VectorIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := x.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

// HealthCheck verifies the database and the vector extension are available
func (x *VectorIndex) HealthCheck(ctx context.Context) error {
	var installed bool
	err := x.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`,
	).Scan(&installed)
	if err != nil {
		return err
	}
	if !installed {
		return fmt.Errorf("%w: pgvector extension is not installed", domain.ErrConfiguration)
	}
	return nil
}
