package tuning

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
	"github.com/ternarybob/verso/internal/pool"
)

func newTestTuner(t *testing.T, mutate func(*common.Config)) *Tuner {
	t.Helper()
	config := common.DefaultConfig()
	config.Translation.ThreadCount = 4
	config.Translation.Provider = "remote"
	config.Jobs.MaxWorkers = 2
	if mutate != nil {
		mutate(config)
	}
	cache := pool.NewCache(config.Pools.MaxCached, time.Minute, config.Pools.QueueSize, common.GetLogger())
	t.Cleanup(cache.ShutdownAll)
	return NewTuner(config, cache, common.GetLogger())
}

func requestWith(payload *models.RequestPayload, runtimeContext map[string]interface{}) *models.PipelineRequest {
	return &models.PipelineRequest{Payload: payload, RuntimeContext: runtimeContext}
}

func TestThreadCountPrecedence(t *testing.T) {
	tuner := newTestTuner(t, nil)

	// Config default when nothing else is set.
	req := requestWith(&models.RequestPayload{}, nil)
	assert.Equal(t, 4, tuner.ThreadCount(req))

	// Runtime context beats config.
	req = requestWith(&models.RequestPayload{}, map[string]interface{}{"thread_count": float64(6)})
	assert.Equal(t, 6, tuner.ThreadCount(req))

	// Overrides beat context.
	req = requestWith(&models.RequestPayload{
		PipelineOverrides: map[string]interface{}{"thread_count": 2},
	}, map[string]interface{}{"thread_count": 6})
	assert.Equal(t, 2, tuner.ThreadCount(req))
}

func TestThreadCountHardwareFallback(t *testing.T) {
	tuner := newTestTuner(t, func(c *common.Config) { c.Translation.ThreadCount = 0 })
	req := requestWith(&models.RequestPayload{}, nil)
	assert.Equal(t, runtime.NumCPU(), tuner.ThreadCount(req))
}

func TestThreadCountCappedForLocalBatching(t *testing.T) {
	tuner := newTestTuner(t, nil)

	req := requestWith(&models.RequestPayload{
		Config: models.PipelineConfig{Provider: "local"},
		Inputs: models.PipelineInputs{BatchSize: 4},
	}, nil)
	assert.Equal(t, 1, tuner.ThreadCount(req))

	// Remote provider keeps full parallelism even when batching.
	req = requestWith(&models.RequestPayload{
		Config: models.PipelineConfig{Provider: "remote"},
		Inputs: models.PipelineInputs{BatchSize: 4},
	}, nil)
	assert.Equal(t, 4, tuner.ThreadCount(req))

	// Local provider without batching keeps full parallelism.
	req = requestWith(&models.RequestPayload{
		Config: models.PipelineConfig{Provider: "local"},
		Inputs: models.PipelineInputs{BatchSize: 1},
	}, nil)
	assert.Equal(t, 4, tuner.ThreadCount(req))
}

func TestThreadCountUsesConfiguredProvider(t *testing.T) {
	tuner := newTestTuner(t, func(c *common.Config) { c.Translation.Provider = "local" })
	req := requestWith(&models.RequestPayload{
		Inputs: models.PipelineInputs{BatchSize: 2},
	}, nil)
	assert.Equal(t, 1, tuner.ThreadCount(req))
}

func TestQueueSize(t *testing.T) {
	tuner := newTestTuner(t, func(c *common.Config) { c.Pools.QueueSize = 32 })

	req := requestWith(&models.RequestPayload{}, nil)
	assert.Equal(t, 32, tuner.QueueSize(req))

	req = requestWith(&models.RequestPayload{
		PipelineOverrides: map[string]interface{}{"queue_size": float64(8)},
	}, nil)
	assert.Equal(t, 8, tuner.QueueSize(req))
}

func TestSummary(t *testing.T) {
	tuner := newTestTuner(t, nil)

	req := requestWith(&models.RequestPayload{
		PipelineOverrides: map[string]interface{}{"pipeline_mode": false},
	}, nil)
	summary := tuner.Summary(req)
	assert.Equal(t, 4, summary.ThreadCount)
	assert.Equal(t, 2, summary.JobMaxWorkers)
	assert.False(t, summary.PipelineMode)
}

func TestAcquireReleaseWorkerPool(t *testing.T) {
	tuner := newTestTuner(t, nil)

	job := models.NewJob("job_pool", models.JobTypePipeline, "user-1", "user")
	job.Request = requestWith(&models.RequestPayload{}, nil)

	p, isNew := tuner.AcquireWorkerPool(job)
	require.NotNil(t, p)
	assert.True(t, isNew)
	assert.True(t, job.OwnsTranslationPool)
	assert.Equal(t, 4, p.WorkerCount())

	tuner.ReleaseWorkerPool(job, p)
	assert.False(t, job.OwnsTranslationPool)

	p2, isNew := tuner.AcquireWorkerPool(job)
	assert.False(t, isNew)
	assert.Same(t, p, p2)
	tuner.ReleaseWorkerPool(job, p2)
}
