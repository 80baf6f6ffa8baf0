package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// MockClinicalStore is an in-memory ClinicalStore with version compare-and-set.
type MockClinicalStore struct {
	mu      sync.RWMutex
	records map[string]domain.ClinicalRecord // key: type:id

	// UpdateFn runs before the compare-and-set; returning an error aborts the update.
	UpdateFn func(rec domain.ClinicalRecord) error
	ListFn   func(filter driven.RecordFilter) ([]domain.ClinicalRecord, error)
}

// NewMockClinicalStore creates a new MockClinicalStore
func NewMockClinicalStore() *MockClinicalStore {
	return &MockClinicalStore{records: make(map[string]domain.ClinicalRecord)}
}

func recordKey(t domain.RecordType, id string) string {
	return string(t) + ":" + id
}

func (m *MockClinicalStore) Get(ctx context.Context, recordType domain.RecordType, id string) (domain.ClinicalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey(recordType, id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, recordType, id)
	}
	return domain.CloneRecord(rec), nil
}

func (m *MockClinicalStore) List(ctx context.Context, filter driven.RecordFilter) ([]domain.ClinicalRecord, error) {
	if m.ListFn != nil {
		return m.ListFn(filter)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ClinicalRecord
	for _, rec := range m.records {
		meta := rec.Meta()
		if filter.Type != "" && rec.Type() != filter.Type {
			continue
		}
		if filter.PatientID != "" && meta.PatientID != filter.PatientID {
			continue
		}
		if filter.ParentID != "" && meta.ParentID != filter.ParentID {
			continue
		}
		out = append(out, domain.CloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Meta().CreatedAt.Before(out[j].Meta().CreatedAt)
	})
	return out, nil
}

func (m *MockClinicalStore) Create(ctx context.Context, rec domain.ClinicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(rec.Type(), rec.Meta().ID)
	if _, exists := m.records[key]; exists {
		return fmt.Errorf("%w: %s exists", domain.ErrConflict, key)
	}
	rec.Meta().Version = 1
	m.records[key] = domain.CloneRecord(rec)
	return nil
}

func (m *MockClinicalStore) Update(ctx context.Context, rec domain.ClinicalRecord) error {
	if m.UpdateFn != nil {
		if err := m.UpdateFn(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(rec.Type(), rec.Meta().ID)
	stored, ok := m.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if stored.Meta().Version != rec.Meta().Version {
		return fmt.Errorf("%w: %s at version %d, write based on %d",
			domain.ErrConflict, key, stored.Meta().Version, rec.Meta().Version)
	}
	rec.Meta().Version++
	rec.Meta().UpdatedAt = time.Now()
	m.records[key] = domain.CloneRecord(rec)
	return nil
}

func (m *MockClinicalStore) Delete(ctx context.Context, recordType domain.RecordType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(recordType, id)
	if _, ok := m.records[key]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	delete(m.records, key)
	return nil
}

// Count returns the number of stored records of a type (for test assertions).
func (m *MockClinicalStore) Count(t domain.RecordType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.records {
		if rec.Type() == t {
			n++
		}
	}
	return n
}

// BumpVersion simulates a concurrent writer (for test setup).
func (m *MockClinicalStore) BumpVersion(t domain.RecordType, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[recordKey(t, id)]; ok {
		rec.Meta().Version++
	}
}

// MockVersionStore is an in-memory append-only VersionStore.
type MockVersionStore struct {
	mu       sync.RWMutex
	versions []*domain.VersionRecord

	AppendFn func(versions []*domain.VersionRecord) error
}

// NewMockVersionStore creates a new MockVersionStore
func NewMockVersionStore() *MockVersionStore {
	return &MockVersionStore{}
}

func (m *MockVersionStore) Append(ctx context.Context, versions ...*domain.VersionRecord) error {
	if m.AppendFn != nil {
		if err := m.AppendFn(versions); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range versions {
		cp := *v
		m.versions = append(m.versions, &cp)
	}
	return nil
}

func (m *MockVersionStore) Get(ctx context.Context, id string) (*domain.VersionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		if v.ID == id {
			cp := *v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: version %s", domain.ErrNotFound, id)
}

// newestFirst walks the log backwards so equal timestamps keep append order.
func (m *MockVersionStore) newestFirst(match func(*domain.VersionRecord) bool, limit int) []*domain.VersionRecord {
	var out []*domain.VersionRecord
	for i := len(m.versions) - 1; i >= 0; i-- {
		v := m.versions[i]
		if match(v) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EditedAt.After(out[j].EditedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MockVersionStore) ListByRecord(ctx context.Context, recordType domain.RecordType, recordID, fieldName string) ([]*domain.VersionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newestFirst(func(v *domain.VersionRecord) bool {
		return v.RecordType == recordType && v.RecordID == recordID &&
			(fieldName == "" || v.FieldName == fieldName)
	}, 0), nil
}

func (m *MockVersionStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]*domain.VersionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newestFirst(func(v *domain.VersionRecord) bool { return v.PatientID == patientID }, limit), nil
}

func (m *MockVersionStore) DeleteByRecord(ctx context.Context, recordType domain.RecordType, recordID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.versions[:0]
	n := 0
	for _, v := range m.versions {
		if v.RecordType == recordType && v.RecordID == recordID {
			n++
			continue
		}
		kept = append(kept, v)
	}
	m.versions = kept
	return n, nil
}

// All returns every stored version in append order (for test assertions).
func (m *MockVersionStore) All() []*domain.VersionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.VersionRecord(nil), m.versions...)
}
