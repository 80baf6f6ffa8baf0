package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// MockDocumentStore is a mock implementation of DocumentStore for testing.
// Documents are copied on the way in and out so callers cannot alias stored state.
type MockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	saves     int

	GetFn  func(id string) (*domain.Document, error)
	SaveFn func(doc *domain.Document) error
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*domain.Document),
	}
}

func (m *MockDocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(doc); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.documents[doc.ID] = &cp
	m.saves++
	return nil
}

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	if m.GetFn != nil {
		return m.GetFn(id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	cp := *doc
	return &cp, nil
}

func (m *MockDocumentStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	delete(m.documents, id)
	return nil
}

func (m *MockDocumentStore) ListByStatus(ctx context.Context, status domain.ProcessingStatus, updatedBefore time.Time, limit int) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Document
	for _, d := range m.documents {
		if d.ProcessingStatus == status && d.UpdatedAt.Before(updatedBefore) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Put stores a document directly (for test setup).
func (m *MockDocumentStore) Put(doc *domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.documents[doc.ID] = &cp
}

// Peek returns the stored document without copying restrictions (for test assertions).
func (m *MockDocumentStore) Peek(id string) *domain.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil
	}
	cp := *doc
	return &cp
}

// SaveCount returns how many times Save succeeded.
func (m *MockDocumentStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// MockFileStore is a mock implementation of FileStore for testing
type MockFileStore struct {
	mu      sync.RWMutex
	objects map[string]*domain.File
	deleted []string

	GetFn    func(key string) (*domain.File, error)
	ExistsFn func(key string) (bool, error)
}

// NewMockFileStore creates a new MockFileStore
func NewMockFileStore() *MockFileStore {
	return &MockFileStore{objects: make(map[string]*domain.File)}
}

func (m *MockFileStore) Get(ctx context.Context, key string) (*domain.File, error) {
	if m.GetFn != nil {
		return m.GetFn(key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", domain.ErrStorage, key)
	}
	return f, nil
}

func (m *MockFileStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.ExistsFn != nil {
		return m.ExistsFn(key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MockFileStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// Put stores an object (for test setup).
func (m *MockFileStore) Put(key string, file *domain.File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = file
}

// Deleted returns keys passed to Delete.
func (m *MockFileStore) Deleted() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.deleted...)
}
