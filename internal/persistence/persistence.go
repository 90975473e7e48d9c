// Package persistence transforms live jobs into durable metadata snapshots
// and back. Snapshotting also lands side artifacts: per-chunk sentence
// sidecars and a mirrored cover image, so later queries never depend on
// transient paths.
package persistence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/locator"
	"github.com/ternarybob/verso/internal/models"
)

// Service converts Job <-> PipelineJobMetadata.
type Service struct {
	locator *locator.Locator
	logger  arbor.ILogger
}

// NewService creates a persistence service over the given locator.
func NewService(loc *locator.Locator, logger arbor.ILogger) *Service {
	return &Service{locator: loc, logger: logger}
}

// Snapshot produces the serializable form of a live job, normalizing its
// generated-files manifest and writing side artifacts. Failures surface to
// the caller; the job itself is not modified on error.
func (s *Service) Snapshot(job *models.Job) (*models.PipelineJobMetadata, error) {
	metadata := &models.PipelineJobMetadata{
		JobID:          job.ID,
		JobType:        job.Type,
		Status:         job.Status,
		CreatedAt:      job.CreatedAt,
		StartedAt:      copyTime(job.StartedAt),
		CompletedAt:    copyTime(job.CompletedAt),
		RequestPayload: job.RequestPayload.Clone(),
		ResumeContext:  cloneResumeContext(job.ResumeContext),
		LastEvent:      job.LastEvent.Clone(),
		ResultPayload:  cloneAnyMap(job.ResultPayload),
		ErrorMessage:   job.ErrorMessage,
		MediaCompleted: job.MediaCompleted,
		UserID:         job.UserID,
		UserRole:       job.UserRole,
		CorrelationID:  job.CorrelationID,
	}
	if job.TuningSummary != nil {
		summary := *job.TuningSummary
		metadata.TuningSummary = &summary
	}
	if job.Tracker != nil {
		metadata.Retries = job.Tracker.Retries()
	}

	generated := job.GeneratedFiles.Clone()
	if generated != nil {
		if err := s.NormalizeManifest(job.ID, generated); err != nil {
			return nil, err
		}
	}
	metadata.GeneratedFiles = generated

	sidecars, err := s.writeSentenceSidecars(job)
	if err != nil {
		return nil, err
	}
	metadata.SentenceFiles = sidecars

	if err := s.mirrorCover(job.ID, metadata.ResultPayload); err != nil {
		return nil, err
	}

	return metadata, nil
}

// Hydrate constructs a live Job mirroring the snapshot. The hydrated job
// has no request, tracker, or stop event; the request factory recreates
// them on first execution.
func (s *Service) Hydrate(metadata *models.PipelineJobMetadata) (*models.Job, error) {
	if err := metadata.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job metadata: %w", err)
	}
	job := &models.Job{
		ID:             metadata.JobID,
		Type:           metadata.JobType,
		Status:         metadata.Status,
		CreatedAt:      metadata.CreatedAt,
		StartedAt:      copyTime(metadata.StartedAt),
		CompletedAt:    copyTime(metadata.CompletedAt),
		RequestPayload: metadata.RequestPayload.Clone(),
		ResumeContext:  cloneResumeContext(metadata.ResumeContext),
		LastEvent:      metadata.LastEvent.Clone(),
		ResultPayload:  cloneAnyMap(metadata.ResultPayload),
		ErrorMessage:   metadata.ErrorMessage,
		GeneratedFiles: metadata.GeneratedFiles.Clone(),
		MediaCompleted: metadata.MediaCompleted,
		SentenceFiles:  append([]string(nil), metadata.SentenceFiles...),
		UserID:         metadata.UserID,
		UserRole:       metadata.UserRole,
		CorrelationID:  metadata.CorrelationID,
	}
	if metadata.TuningSummary != nil {
		summary := *metadata.TuningSummary
		job.TuningSummary = &summary
	}
	return job, nil
}

// NormalizeManifest ensures every file entry carries both an absolute path
// and a POSIX relative path from the job root, plus a resolvable URL.
// Entries that escape the job root are rejected.
func (s *Service) NormalizeManifest(jobID string, manifest *models.GeneratedFiles) error {
	if manifest == nil {
		return nil
	}
	jobRoot := s.locator.JobRoot(jobID)
	for ci := range manifest.Chunks {
		files := manifest.Chunks[ci].Files
		for fi := range files {
			entry := &files[fi]
			switch {
			case entry.AbsPath != "":
				rel, err := s.locator.RelPath(jobID, entry.AbsPath)
				if err != nil {
					return fmt.Errorf("invalid manifest entry: %w", err)
				}
				entry.RelPath = rel
			case entry.RelPath != "":
				rel := filepath.ToSlash(filepath.Clean(entry.RelPath))
				if rel == ".." || strings.HasPrefix(rel, "../") || filepath.IsAbs(entry.RelPath) {
					return fmt.Errorf("invalid manifest entry: path %s escapes job root", entry.RelPath)
				}
				entry.RelPath = rel
				entry.AbsPath = filepath.Join(jobRoot, filepath.FromSlash(rel))
			default:
				return fmt.Errorf("invalid manifest entry: no path for chunk %d", manifest.Chunks[ci].Chunk)
			}
			entry.URL = s.locator.URL(jobID, entry.RelPath)
		}
	}
	manifest.Sort()
	return nil
}

// writeSentenceSidecars lands per-chunk sentence details from the last
// progress event as separate files under <job_root>/metadata/. Returns the
// sorted relative paths of every sidecar present on disk for this job.
func (s *Service) writeSentenceSidecars(job *models.Job) ([]string, error) {
	if job.LastEvent != nil && job.LastEvent.Metadata != nil {
		sentences, hasSentences := job.LastEvent.Metadata["sentences"]
		chunk, hasChunk := chunkOrdinal(job.LastEvent.Metadata)
		if hasSentences && hasChunk {
			if err := os.MkdirAll(s.locator.MetadataDir(job.ID), 0755); err != nil {
				return nil, fmt.Errorf("failed to create metadata directory: %w", err)
			}
			name := fmt.Sprintf("sentences_chunk_%04d.json", chunk)
			path := filepath.Join(s.locator.MetadataDir(job.ID), name)
			data, err := json.MarshalIndent(sentences, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal sentence details: %w", err)
			}
			if err := atomicWrite(path, data); err != nil {
				return nil, fmt.Errorf("failed to write sentence sidecar: %w", err)
			}
		}
	}

	// The snapshot references every sidecar on disk, not just this event's.
	entries, err := os.ReadDir(s.locator.MetadataDir(job.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata directory: %w", err)
	}
	var sidecars []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "sentences_chunk_") {
			continue
		}
		sidecars = append(sidecars, "metadata/"+entry.Name())
	}
	sort.Strings(sidecars)
	return sidecars, nil
}

// mirrorCover copies a referenced cover image into the job's metadata
// directory and rewrites the reference to the job-relative path, so the
// snapshot never points at a transient location.
func (s *Service) mirrorCover(jobID string, resultPayload map[string]interface{}) error {
	if resultPayload == nil {
		return nil
	}
	cover, ok := resultPayload["cover_image"].(string)
	if !ok || cover == "" || strings.HasPrefix(cover, "metadata/") {
		return nil
	}
	if _, err := os.Stat(cover); err != nil {
		// Transient source already gone; keep the reference as-is.
		s.logger.Warn().Str("job_id", jobID).Str("cover", cover).Msg("Cover image not found, skipping mirror")
		return nil
	}
	if err := os.MkdirAll(s.locator.MetadataDir(jobID), 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	target := filepath.Join(s.locator.MetadataDir(jobID), "cover"+filepath.Ext(cover))
	if err := copyFile(cover, target); err != nil {
		return fmt.Errorf("failed to mirror cover image: %w", err)
	}
	resultPayload["cover_image"] = "metadata/cover" + filepath.Ext(cover)
	return nil
}

func chunkOrdinal(metadata map[string]interface{}) (int, bool) {
	switch v := metadata["chunk"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneResumeContext(rc *models.ResumeContext) *models.ResumeContext {
	if rc == nil {
		return nil
	}
	clone := *rc
	clone.Payload = rc.Payload.Clone()
	return &clone
}
