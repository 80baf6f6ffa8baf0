package driven

import (
	"context"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// ProcessingLogStore appends pipeline audit entries
type ProcessingLogStore interface {
	Append(ctx context.Context, entry *domain.ProcessingLog) error
	ListByDocument(ctx context.Context, documentID string) ([]*domain.ProcessingLog, error)
}

// TimelineStore persists extracted timeline events
type TimelineStore interface {
	// ReplaceForDocument swaps a document's events for the given set
	ReplaceForDocument(ctx context.Context, documentID string, events []*domain.TimelineEvent) error

	// ListByPatient returns events ordered by date
	ListByPatient(ctx context.Context, patientID string) ([]*domain.TimelineEvent, error)

	// DeleteByDocument removes a document's events
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ClinicalSectionStore persists the per-kind summary paragraphs
type ClinicalSectionStore interface {
	// Upsert creates or replaces the section for (patient, kind)
	Upsert(ctx context.Context, section *domain.ClinicalSection) error

	Get(ctx context.Context, patientID string, kind domain.DocumentKind) (*domain.ClinicalSection, error)
}
