package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOverrideKeys(t *testing.T) {
	assert.NoError(t, ValidateOverrideKeys(nil))
	assert.NoError(t, ValidateOverrideKeys(map[string]interface{}{}))
	assert.NoError(t, ValidateOverrideKeys(map[string]interface{}{
		"thread_count": 4,
		"provider":     "local",
	}))

	err := ValidateOverrideKeys(map[string]interface{}{
		"thread_count": 4,
		"gpu_count":    2,
		"banana":       true,
	})
	require.Error(t, err)
	// Unknown keys are reported sorted for stable messages.
	assert.Contains(t, err.Error(), "unknown override keys: [banana gpu_count]")
}

func TestRequestPayloadCloneIsDeep(t *testing.T) {
	p := &RequestPayload{
		JobType: JobTypePipeline,
		Config:  PipelineConfig{OutputFormats: []string{"text", "audio"}},
		Inputs: PipelineInputs{
			InputFile:      "book.txt",
			SourceLanguage: "en",
			TargetLanguage: "de",
		},
		PipelineOverrides: map[string]interface{}{"thread_count": 4},
		Metadata:          map[string]interface{}{"title": "A Book"},
	}

	clone := p.Clone()
	clone.Config.OutputFormats[0] = "video"
	clone.PipelineOverrides["thread_count"] = 8
	clone.Metadata["title"] = "Other"
	clone.Inputs.StartSentence = 99

	assert.Equal(t, "text", p.Config.OutputFormats[0])
	assert.Equal(t, 4, p.PipelineOverrides["thread_count"])
	assert.Equal(t, "A Book", p.Metadata["title"])
	assert.Equal(t, 0, p.Inputs.StartSentence)

	var nilPayload *RequestPayload
	assert.Nil(t, nilPayload.Clone())
}

func TestOverrideInt(t *testing.T) {
	p := &RequestPayload{
		EnvOverrides:      map[string]interface{}{"queue_size": float64(50), "thread_count": 2},
		PipelineOverrides: map[string]interface{}{"thread_count": 8},
	}

	// Pipeline overrides win over env overrides.
	n, ok := p.OverrideInt("thread_count")
	require.True(t, ok)
	assert.Equal(t, 8, n)

	// float64 values from JSON decode are accepted.
	n, ok = p.OverrideInt("queue_size")
	require.True(t, ok)
	assert.Equal(t, 50, n)

	_, ok = p.OverrideInt("missing")
	assert.False(t, ok)
}

func TestOverrideBool(t *testing.T) {
	p := &RequestPayload{
		PipelineOverrides: map[string]interface{}{"pipeline_mode": true},
	}

	v, ok := p.OverrideBool("pipeline_mode")
	require.True(t, ok)
	assert.True(t, v)

	_, ok = p.OverrideBool("missing")
	assert.False(t, ok)
}

func TestPipelineRequestContextInt(t *testing.T) {
	r := &PipelineRequest{RuntimeContext: map[string]interface{}{
		"worker_count": 4,
		"chunk_size":   float64(10),
	}}

	n, ok := r.ContextInt("worker_count")
	require.True(t, ok)
	assert.Equal(t, 4, n)

	n, ok = r.ContextInt("chunk_size")
	require.True(t, ok)
	assert.Equal(t, 10, n)

	_, ok = r.ContextInt("missing")
	assert.False(t, ok)

	var nilReq *PipelineRequest
	_, ok = nilReq.ContextInt("worker_count")
	assert.False(t, ok)
}

func TestPipelineRequestCorrelationID(t *testing.T) {
	r := &PipelineRequest{Payload: &RequestPayload{CorrelationID: "req-123"}}
	assert.Equal(t, "req-123", r.CorrelationID())

	assert.Empty(t, (&PipelineRequest{}).CorrelationID())
	var nilReq *PipelineRequest
	assert.Empty(t, nilReq.CorrelationID())
}
