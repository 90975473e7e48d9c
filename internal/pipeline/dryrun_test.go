package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

func writeSource(t *testing.T, dir string, sentenceCount int) string {
	t.Helper()
	var text []byte
	for i := 0; i < sentenceCount; i++ {
		text = append(text, []byte("Sentence number here. ")...)
	}
	path := filepath.Join(dir, "book.txt")
	require.NoError(t, os.WriteFile(path, text, 0644))
	return path
}

func testRequest(t *testing.T, source string, start, block int) *models.PipelineRequest {
	t.Helper()
	jobRoot := t.TempDir()
	mediaDir := filepath.Join(jobRoot, "media")
	require.NoError(t, os.MkdirAll(mediaDir, 0755))

	return &models.PipelineRequest{
		Payload: &models.RequestPayload{
			JobType: models.JobTypePipeline,
			Inputs: models.PipelineInputs{
				InputFile:              source,
				SourceLanguage:         "en",
				TargetLanguage:         "fr",
				StartSentence:          start,
				SentencesPerOutputFile: block,
			},
		},
		RuntimeContext: map[string]interface{}{
			"job_root":  jobRoot,
			"media_dir": mediaDir,
		},
		Tracker:   models.NewTracker("job_test"),
		StopEvent: models.NewStopEvent(),
	}
}

func TestDryRunRendersChunks(t *testing.T) {
	source := writeSource(t, t.TempDir(), 23)
	req := testRequest(t, source, 1, 10)
	p := NewDryRun(common.GetLogger())

	resp, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.True(t, resp.MediaCompleted)
	assert.Equal(t, 23, resp.ResultPayload["sentences_rendered"])
	assert.Equal(t, 3, resp.ResultPayload["chunks"])

	require.NotNil(t, resp.GeneratedFiles)
	require.Len(t, resp.GeneratedFiles.Chunks, 3)
	for _, chunk := range resp.GeneratedFiles.Chunks {
		require.Len(t, chunk.Files, 1)
		assert.FileExists(t, chunk.Files[0].AbsPath)
	}

	last := req.Tracker.LastEvent()
	require.NotNil(t, last)
	done, ok := last.Metadata["media_completed"].(bool)
	require.True(t, ok)
	assert.True(t, done)
	assert.True(t, req.Tracker.MediaCompleted())
}

func TestDryRunHonorsStartAndEnd(t *testing.T) {
	source := writeSource(t, t.TempDir(), 30)
	req := testRequest(t, source, 21, 10)
	req.Payload.Inputs.EndSentence = 25
	p := NewDryRun(common.GetLogger())

	resp, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, resp.ResultPayload["sentences_rendered"])
	assert.Equal(t, 1, resp.ResultPayload["chunks"])
}

func TestDryRunStopsAtSentenceBoundary(t *testing.T) {
	source := writeSource(t, t.TempDir(), 200)
	req := testRequest(t, source, 1, 10)
	p := NewDryRun(common.GetLogger())
	p.StepDelay = 5 * time.Millisecond

	var once sync.Once
	req.Tracker.AddObserver(func(event *models.ProgressEvent) {
		if n, ok := event.SentenceNumber(); ok && n >= 23 {
			once.Do(req.StopEvent.Signal)
		}
	})

	_, err := p.Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped at sentence")

	// Completed blocks survive; the interrupted block was never flushed.
	generated := req.Tracker.GeneratedSnapshot()
	require.NotNil(t, generated)
	assert.Len(t, generated.Chunks, 2)
}

func TestDryRunMissingSource(t *testing.T) {
	req := testRequest(t, filepath.Join(t.TempDir(), "absent.txt"), 1, 10)
	p := NewDryRun(common.GetLogger())

	_, err := p.Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read source")
}
