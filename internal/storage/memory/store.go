// Package memory provides the in-memory job store used by tests and as the
// default fallback backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/models"
)

// Store keeps canonical JSON documents in a map. Documents are stored as
// serialized bytes so callers can never alias the stored copy.
type Store struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewStore creates an empty in-memory store.
func NewStore() interfaces.JobStore {
	return &Store{docs: make(map[string][]byte)}
}

func (s *Store) Save(ctx context.Context, metadata *models.PipelineJobMetadata) error {
	data, err := metadata.CanonicalJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[metadata.JobID] = data
	s.mu.Unlock()
	return nil
}

func (s *Store) Update(ctx context.Context, metadata *models.PipelineJobMetadata) error {
	data, err := metadata.CanonicalJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[metadata.JobID]; !ok {
		return fmt.Errorf("update %s: %w", metadata.JobID, models.ErrJobNotFound)
	}
	s.docs[metadata.JobID] = data
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*models.PipelineJobMetadata, error) {
	s.mu.RLock()
	data, ok := s.docs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: %w", jobID, models.ErrJobNotFound)
	}
	return models.MetadataFromJSON(data)
}

func (s *Store) List(ctx context.Context) (map[string]*models.PipelineJobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*models.PipelineJobMetadata, len(s.docs))
	for id, data := range s.docs {
		metadata, err := models.MetadataFromJSON(data)
		if err != nil {
			return nil, fmt.Errorf("corrupt record %s: %w", id, err)
		}
		result[id] = metadata
	}
	return result, nil
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[jobID]; !ok {
		return fmt.Errorf("delete %s: %w", jobID, models.ErrJobNotFound)
	}
	delete(s.docs, jobID)
	return nil
}

func (s *Store) Close() error {
	return nil
}
