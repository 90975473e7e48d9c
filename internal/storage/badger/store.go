// Package badger provides the default local job store backend on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Store implements the JobStore interface for Badger
type Store struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewStore creates a new badger-backed job store.
func NewStore(db *BadgerDB, logger arbor.ILogger) interfaces.JobStore {
	return &Store{db: db, logger: logger}
}

func (s *Store) Save(ctx context.Context, metadata *models.PipelineJobMetadata) error {
	if metadata.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	metadata.GeneratedFiles.Sort()
	if err := s.db.Store().Upsert(metadata.JobID, metadata); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, metadata *models.PipelineJobMetadata) error {
	metadata.GeneratedFiles.Sort()
	if err := s.db.Store().Update(metadata.JobID, metadata); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("update %s: %w", metadata.JobID, models.ErrJobNotFound)
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*models.PipelineJobMetadata, error) {
	var metadata models.PipelineJobMetadata
	if err := s.db.Store().Get(jobID, &metadata); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("get %s: %w", jobID, models.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &metadata, nil
}

func (s *Store) List(ctx context.Context) (map[string]*models.PipelineJobMetadata, error) {
	var records []models.PipelineJobMetadata
	if err := s.db.Store().Find(&records, badgerhold.Where("JobID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make(map[string]*models.PipelineJobMetadata, len(records))
	for i := range records {
		result[records[i].JobID] = &records[i]
	}
	return result, nil
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.PipelineJobMetadata{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", jobID, models.ErrJobNotFound)
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
