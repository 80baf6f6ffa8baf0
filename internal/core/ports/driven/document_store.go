package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

// DocumentStore handles document persistence (PostgreSQL)
type DocumentStore interface {
	// Save creates or updates a document
	Save(ctx context.Context, doc *domain.Document) error

	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// Delete deletes a document
	Delete(ctx context.Context, id string) error

	// ListByStatus returns documents in the given state last updated before the cutoff
	ListByStatus(ctx context.Context, status domain.ProcessingStatus, updatedBefore time.Time, limit int) ([]*domain.Document, error)
}

// FileStore reads original document bytes from object storage
type FileStore interface {
	// Get downloads the object at key
	Get(ctx context.Context, key string) (*domain.File, error)

	// Exists reports whether the object at key is present
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object; deleting a missing object is not an error
	Delete(ctx context.Context, key string) error
}
