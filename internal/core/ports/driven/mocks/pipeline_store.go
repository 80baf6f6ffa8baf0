package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// MockProcessingLogStore is an in-memory ProcessingLogStore
type MockProcessingLogStore struct {
	mu      sync.RWMutex
	entries []*domain.ProcessingLog
}

func NewMockProcessingLogStore() *MockProcessingLogStore {
	return &MockProcessingLogStore{}
}

func (m *MockProcessingLogStore) Append(ctx context.Context, entry *domain.ProcessingLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MockProcessingLogStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.ProcessingLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ProcessingLog
	for _, e := range m.entries {
		if e.DocumentID == documentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MockTimelineStore is an in-memory TimelineStore
type MockTimelineStore struct {
	mu         sync.RWMutex
	byDocument map[string][]*domain.TimelineEvent

	ReplaceFn func(documentID string, events []*domain.TimelineEvent) error
}

func NewMockTimelineStore() *MockTimelineStore {
	return &MockTimelineStore{byDocument: make(map[string][]*domain.TimelineEvent)}
}

func (m *MockTimelineStore) ReplaceForDocument(ctx context.Context, documentID string, events []*domain.TimelineEvent) error {
	if m.ReplaceFn != nil {
		if err := m.ReplaceFn(documentID, events); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byDocument[documentID] = append([]*domain.TimelineEvent(nil), events...)
	return nil
}

func (m *MockTimelineStore) ListByPatient(ctx context.Context, patientID string) ([]*domain.TimelineEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.TimelineEvent
	for _, events := range m.byDocument {
		for _, e := range events {
			if e.PatientID == patientID {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventDate < out[j].EventDate })
	return out, nil
}

func (m *MockTimelineStore) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byDocument, documentID)
	return nil
}

// MockClinicalSectionStore is an in-memory ClinicalSectionStore
type MockClinicalSectionStore struct {
	mu       sync.RWMutex
	sections map[string]*domain.ClinicalSection

	UpsertFn func(section *domain.ClinicalSection) error
}

func NewMockClinicalSectionStore() *MockClinicalSectionStore {
	return &MockClinicalSectionStore{sections: make(map[string]*domain.ClinicalSection)}
}

func (m *MockClinicalSectionStore) Upsert(ctx context.Context, section *domain.ClinicalSection) error {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(section); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *section
	m.sections[section.PatientID+":"+string(section.Kind)] = &cp
	return nil
}

func (m *MockClinicalSectionStore) Get(ctx context.Context, patientID string, kind domain.DocumentKind) (*domain.ClinicalSection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sections[patientID+":"+string(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: section %s/%s", domain.ErrNotFound, patientID, kind)
	}
	cp := *s
	return &cp, nil
}
