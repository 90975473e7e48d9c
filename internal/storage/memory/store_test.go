package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/models"
)

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
				InputFile:              "book.txt",
				SourceLanguage:         "en",
				TargetLanguage:         "de",
				SentencesPerOutputFile: 10,
			},
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
	store := NewStore()
	ctx := context.Background()

	meta := sampleMetadata("job-1")
	require.NoError(t, store.Save(ctx, meta))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, meta.JobID, got.JobID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.True(t, meta.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "alice", got.UserID)
	require.NotNil(t, got.RequestPayload)
	assert.Equal(t, "book.txt", got.RequestPayload.Inputs.InputFile)
	assert.Equal(t, map[string]interface{}{"sentences_rendered": float64(23)}, got.ResultPayload)

	// The manifest comes back sorted by chunk ordinal.
	require.NotNil(t, got.GeneratedFiles)
	require.Len(t, got.GeneratedFiles.Chunks, 2)
	assert.Equal(t, 1, got.GeneratedFiles.Chunks[0].Chunk)
	assert.Equal(t, 2, got.GeneratedFiles.Chunks[1].Chunk)
}

func TestRePersistIsByteIdentical(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	meta := sampleMetadata("job-canonical")
	require.NoError(t, store.Save(ctx, meta))

	got, err := store.Get(ctx, "job-canonical")
	require.NoError(t, err)

	first, err := meta.CanonicalJSON()
	require.NoError(t, err)
	second, err := got.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestGetReturnsCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-copy")))

	got, err := store.Get(ctx, "job-copy")
	require.NoError(t, err)
	got.Status = models.JobStatusFailed
	got.ResultPayload["sentences_rendered"] = float64(0)

	again, err := store.Get(ctx, "job-copy")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, again.Status)
	assert.Equal(t, float64(23), again.ResultPayload["sentences_rendered"])
}

func TestUpdateExisting(t *testing.T) {
	store := NewStore()
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
	store := NewStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	err = store.Update(ctx, sampleMetadata("missing"))
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	err = store.Delete(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestDeleteRemovesJob(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-del")))
	require.NoError(t, store.Delete(ctx, "job-del"))

	_, err := store.Get(ctx, "job-del")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestListReturnsAllJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-a")))
	require.NoError(t, store.Save(ctx, sampleMetadata("job-b")))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Contains(t, jobs, "job-a")
	assert.Contains(t, jobs, "job-b")
	assert.Equal(t, "job-a", jobs["job-a"].JobID)
}
