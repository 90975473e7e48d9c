package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/models"
)

func newTestStore(t *testing.T) interfaces.JobStore {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "verso.db")})
	require.NoError(t, err)
	store := NewStore(db, logger)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleMetadata(id string) *models.PipelineJobMetadata {
	created := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	completed := created.Add(45 * time.Second)
	return &models.PipelineJobMetadata{
		JobID:     id,
		JobType:   models.JobTypePipeline,
		Status:    models.JobStatusCompleted,
		CreatedAt: created,

		CompletedAt: &completed,
		RequestPayload: &models.RequestPayload{
			JobType: models.JobTypePipeline,
			Inputs: models.PipelineInputs{
				InputFile:      "book.txt",
				SourceLanguage: "en",
				TargetLanguage: "de",
			},
			PipelineOverrides: map[string]interface{}{"thread_count": float64(4)},
		},
		ResultPayload: map[string]interface{}{"sentences_rendered": float64(23)},
		GeneratedFiles: &models.GeneratedFiles{
			Chunks: []models.ChunkArtifacts{
				{Chunk: 2, Files: []models.FileEntry{{Type: "text", RelPath: "media/chunk_0002.txt"}}},
				{Chunk: 1, Files: []models.FileEntry{{Type: "text", RelPath: "media/chunk_0001.txt"}}},
			},
		},
		MediaCompleted: true,
		UserID:         "alice",
		UserRole:       "user",
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta := sampleMetadata("job-1")
	require.NoError(t, store.Save(ctx, meta))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.True(t, meta.CreatedAt.Equal(got.CreatedAt))

	// Interface-typed payload maps survive the trip through the store.
	require.NotNil(t, got.RequestPayload)
	assert.Equal(t, float64(4), got.RequestPayload.PipelineOverrides["thread_count"])
	assert.Equal(t, float64(23), got.ResultPayload["sentences_rendered"])

	// Save sorts the manifest before persisting.
	require.NotNil(t, got.GeneratedFiles)
	require.Len(t, got.GeneratedFiles.Chunks, 2)
	assert.Equal(t, 1, got.GeneratedFiles.Chunks[0].Chunk)
	assert.Equal(t, 2, got.GeneratedFiles.Chunks[1].Chunk)
}

func TestSaveRequiresJobID(t *testing.T) {
	store := newTestStore(t)

	meta := sampleMetadata("")
	err := store.Save(context.Background(), meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job ID is required")
}

func TestUpdateExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta := sampleMetadata("job-update")
	require.NoError(t, store.Save(ctx, meta))

	meta.Status = models.JobStatusFailed
	meta.ErrorMessage = "render failed"
	require.NoError(t, store.Update(ctx, meta))

	got, err := store.Get(ctx, "job-update")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "render failed", got.ErrorMessage)
}

func TestUnknownJobErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	err = store.Update(ctx, sampleMetadata("missing"))
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	err = store.Delete(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestDeleteRemovesJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-del")))
	require.NoError(t, store.Delete(ctx, "job-del"))

	_, err := store.Get(ctx, "job-del")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestListReturnsAllJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-a")))
	require.NoError(t, store.Save(ctx, sampleMetadata("job-b")))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Contains(t, jobs, "job-a")
	assert.Contains(t, jobs, "job-b")
}

func TestResetOnStartupClearsDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verso.db")
	logger := arbor.NewLogger()
	ctx := context.Background()

	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: path})
	require.NoError(t, err)
	store := NewStore(db, logger)
	require.NoError(t, store.Save(ctx, sampleMetadata("job-reset")))
	require.NoError(t, store.Close())

	// Reopen without reset keeps the record.
	db, err = NewBadgerDB(logger, &common.BadgerConfig{Path: path})
	require.NoError(t, err)
	store = NewStore(db, logger)
	_, err = store.Get(ctx, "job-reset")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopen with reset starts empty.
	db, err = NewBadgerDB(logger, &common.BadgerConfig{Path: path, ResetOnStartup: true})
	require.NoError(t, err)
	store = NewStore(db, logger)
	defer store.Close()
	_, err = store.Get(ctx, "job-reset")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}
