package domain

import "time"

// Chunk is an indexed slice of a document's text.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	PatientID  string    `json:"patient_id"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Position   int       `json:"position"` // Chunk position within document
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	CreatedAt  time.Time `json:"created_at"`
}

// VectorQuery is a semantic lookup against the vector index.
type VectorQuery struct {
	PatientID  string    `json:"patient_id,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Embedding  []float32 `json:"-"`
	Limit      int       `json:"limit"`
}

// DefaultVectorQueryLimit is used when a query sets no limit.
const DefaultVectorQueryLimit = 10

// RankedChunk is a query match with its similarity score (higher is closer).
type RankedChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}
