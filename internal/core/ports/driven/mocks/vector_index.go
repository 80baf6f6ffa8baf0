package mocks

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// MockVectorIndex is an in-memory VectorIndex using cosine similarity
type MockVectorIndex struct {
	mu     sync.RWMutex
	chunks map[string]*domain.Chunk

	UpsertFn func(chunks []*domain.Chunk) error
}

func NewMockVectorIndex() *MockVectorIndex {
	return &MockVectorIndex{chunks: make(map[string]*domain.Chunk)}
}

func (m *MockVectorIndex) Upsert(ctx context.Context, chunks []*domain.Chunk) error {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(chunks); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		cp := *c
		m.chunks[c.ID] = &cp
	}
	return nil
}

func (m *MockVectorIndex) Query(ctx context.Context, q domain.VectorQuery) ([]*domain.RankedChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.RankedChunk
	for _, c := range m.chunks {
		if q.PatientID != "" && c.PatientID != q.PatientID {
			continue
		}
		if q.DocumentID != "" && c.DocumentID != q.DocumentID {
			continue
		}
		out = append(out, &domain.RankedChunk{Chunk: c, Score: cosine(q.Embedding, c.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultVectorQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockVectorIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if c.DocumentID == documentID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MockVectorIndex) HealthCheck(ctx context.Context) error {
	return nil
}

// CountByDocument returns the number of chunks for a document (for test assertions).
func (m *MockVectorIndex) CountByDocument(documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
