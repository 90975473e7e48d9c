package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/models"
)

func newTestStore(t *testing.T) (interfaces.JobStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir, arbor.NewLogger())
	require.NoError(t, err)
	return store, dir
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
		},
		MediaCompleted: true,
		UserID:         "alice",
		UserRole:       "user",
	}
}

func TestSaveWritesJSONDocument(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-1")))

	data, err := os.ReadFile(filepath.Join(dir, "job-1.json"))
	require.NoError(t, err)
	meta, err := models.MetadataFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "job-1", meta.JobID)
	assert.Equal(t, models.JobStatusCompleted, meta.Status)
}

func TestSaveSanitizesJobIDForFilename(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job/../evil")))

	// Path separators never reach the filesystem layout.
	_, err := os.Stat(filepath.Join(dir, "job_.._evil.json"))
	require.NoError(t, err)

	got, err := store.Get(ctx, "job/../evil")
	require.NoError(t, err)
	assert.Equal(t, "job/../evil", got.JobID)
}

func TestRecordsSurviveReopen(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-persist")))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir, arbor.NewLogger())
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "job-persist")
	require.NoError(t, err)
	assert.Equal(t, "job-persist", got.JobID)
}

func TestUpdateExisting(t *testing.T) {
	store, _ := newTestStore(t)
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
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	err = store.Update(ctx, sampleMetadata("missing"))
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	err = store.Delete(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestDeleteRemovesDocument(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-del")))
	require.NoError(t, store.Delete(ctx, "job-del"))

	_, err := os.Stat(filepath.Join(dir, "job-del.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = store.Get(ctx, "job-del")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestListSkipsCorruptAndForeignEntries(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-good")))

	// Corrupt record, non-JSON file, dotfile and a subdirectory all get
	// skipped without failing the listing.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.json"), []byte("{}"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs, "job-good")
}
