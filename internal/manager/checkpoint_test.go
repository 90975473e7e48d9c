package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/models"
)

func TestComputeBlockStart(t *testing.T) {
	cases := []struct {
		name         string
		baseStart    int
		blockSize    int
		lastSentence int
		want         int
	}{
		{"mid-block snaps down", 1, 10, 23, 21},
		{"block boundary stays", 1, 10, 21, 21},
		{"end of block stays in block", 1, 10, 30, 21},
		{"first block", 1, 10, 5, 1},
		{"offset base", 51, 10, 73, 71},
		{"offset base first block", 51, 10, 55, 51},
		{"block size one resumes at last", 1, 1, 23, 23},
		{"zero block size treated as one", 1, 0, 23, 23},
		{"last before base clamps to base", 10, 10, 3, 3},
		{"zero base keeps zero-indexed blocks", 0, 10, 23, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeBlockStart(tc.baseStart, tc.blockSize, tc.lastSentence))
		})
	}
}

func TestBuildResumeContextFromSentenceNumber(t *testing.T) {
	job := models.NewJob("job_ckpt", models.JobTypePipeline, "user-1", "user")
	job.RequestPayload = &models.RequestPayload{
		Inputs: models.PipelineInputs{StartSentence: 1, SentencesPerOutputFile: 10},
	}
	job.LastEvent = &models.ProgressEvent{
		Metadata: map[string]interface{}{"sentence_number": float64(23)},
	}

	rc := BuildResumeContext(job)
	require.NotNil(t, rc)
	assert.Equal(t, 21, rc.BlockStart)
	assert.Equal(t, 23, rc.LastSentence)
	assert.Equal(t, 24, rc.NextSentence)
	assert.Equal(t, 21, rc.Payload.Inputs.StartSentence)

	// The original payload is untouched.
	assert.Equal(t, 1, job.RequestPayload.Inputs.StartSentence)
}

func TestBuildResumeContextFallsBackToCompletedCount(t *testing.T) {
	job := models.NewJob("job_ckpt2", models.JobTypePipeline, "user-1", "user")
	job.RequestPayload = &models.RequestPayload{
		Inputs: models.PipelineInputs{StartSentence: 1, SentencesPerOutputFile: 10},
	}
	job.LastEvent = &models.ProgressEvent{
		Snapshot: models.ProgressSnapshot{Completed: 23},
	}

	rc := BuildResumeContext(job)
	require.NotNil(t, rc)
	assert.Equal(t, 23, rc.LastSentence)
	assert.Equal(t, 21, rc.BlockStart)
}

func TestBuildResumeContextNoProgress(t *testing.T) {
	job := models.NewJob("job_ckpt3", models.JobTypePipeline, "user-1", "user")
	job.RequestPayload = &models.RequestPayload{
		Inputs: models.PipelineInputs{StartSentence: 1, SentencesPerOutputFile: 10},
	}
	assert.Nil(t, BuildResumeContext(job))

	job.LastEvent = &models.ProgressEvent{}
	assert.Nil(t, BuildResumeContext(job))
}
