package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/models"
)

func newTestStore(t *testing.T) interfaces.JobStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStoreWithClient(client, "verso:jobs", arbor.NewLogger())
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
	require.NotNil(t, got.RequestPayload)
	assert.Equal(t, "de", got.RequestPayload.Inputs.TargetLanguage)
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

func TestListScansNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleMetadata("job-a")))
	require.NoError(t, store.Save(ctx, sampleMetadata("job-b")))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Contains(t, jobs, "job-a")
	assert.Contains(t, jobs, "job-b")
	assert.Equal(t, "job-b", jobs["job-b"].JobID)
}

func TestNamespacesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := arbor.NewLogger()
	primary := NewStoreWithClient(client, "verso:jobs", logger)
	other := NewStoreWithClient(client, "staging:jobs", logger)
	ctx := context.Background()

	require.NoError(t, primary.Save(ctx, sampleMetadata("job-1")))

	jobs, err := other.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = other.Get(ctx, "job-1")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}
