// Package file provides the filesystem job store: one canonical JSON
// document per job, written atomically via temp-file + rename + fsync.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/models"
)

// Store persists each job as <dir>/<sanitized-id>.json.
type Store struct {
	dir    string
	logger arbor.ILogger
}

// NewStore creates the store directory if needed.
func NewStore(dir string, logger arbor.ILogger) (interfaces.JobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, common.SanitizeID(jobID)+".json")
}

func (s *Store) Save(ctx context.Context, metadata *models.PipelineJobMetadata) error {
	return s.write(metadata)
}

func (s *Store) Update(ctx context.Context, metadata *models.PipelineJobMetadata) error {
	if _, err := os.Stat(s.path(metadata.JobID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("update %s: %w", metadata.JobID, models.ErrJobNotFound)
		}
		return fmt.Errorf("failed to stat job record: %w", err)
	}
	return s.write(metadata)
}

// write lands the document atomically: temp file in the same directory,
// fsync, rename over the canonical name, fsync the directory.
func (s *Store) write(metadata *models.PipelineJobMetadata) error {
	data, err := metadata.CanonicalJSON()
	if err != nil {
		return err
	}

	target := s.path(metadata.JobID)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write job record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync job record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename job record: %w", err)
	}
	s.syncDir()
	return nil
}

// syncDir fsyncs the store directory so the rename is durable. Failures are
// logged only; the data file itself is already synced.
func (s *Store) syncDir() {
	d, err := os.Open(s.dir)
	if err != nil {
		s.logger.Warn().Err(err).Str("dir", s.dir).Msg("Failed to open store directory for sync")
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		s.logger.Warn().Err(err).Str("dir", s.dir).Msg("Failed to sync store directory")
	}
}

func (s *Store) Get(ctx context.Context, jobID string) (*models.PipelineJobMetadata, error) {
	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get %s: %w", jobID, models.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to read job record: %w", err)
	}
	return models.MetadataFromJSON(data)
}

func (s *Store) List(ctx context.Context) (map[string]*models.PipelineJobMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	result := make(map[string]*models.PipelineJobMetadata)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Failed to read job record, skipping")
			continue
		}
		metadata, err := models.MetadataFromJSON(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Corrupt job record, skipping")
			continue
		}
		result[metadata.JobID] = metadata
	}
	return result, nil
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	if err := os.Remove(s.path(jobID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", jobID, models.ErrJobNotFound)
		}
		return fmt.Errorf("failed to delete job record: %w", err)
	}
	s.syncDir()
	return nil
}

func (s *Store) Close() error {
	return nil
}
