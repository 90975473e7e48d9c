package interfaces

import (
	"context"

	"github.com/ternarybob/verso/internal/models"
)

// JobStore is the durable key-value persistence layer for job metadata
// snapshots. A successful Save/Update must be observable by the next
// Get/List. Lookups of unknown IDs fail with models.ErrJobNotFound.
type JobStore interface {
	// Save writes a new record; idempotent if the key already exists.
	Save(ctx context.Context, metadata *models.PipelineJobMetadata) error

	// Update overwrites an existing record.
	Update(ctx context.Context, metadata *models.PipelineJobMetadata) error

	// Get returns the metadata for a job ID.
	Get(ctx context.Context, jobID string) (*models.PipelineJobMetadata, error)

	// List returns all records keyed by job ID.
	List(ctx context.Context) (map[string]*models.PipelineJobMetadata, error)

	// Delete removes a record.
	Delete(ctx context.Context, jobID string) error

	// Close releases backend resources.
	Close() error
}
