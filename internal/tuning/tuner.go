// Package tuning resolves translation parallelism for each request and
// brokers worker pools from the cache.
package tuning

import (
	"runtime"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
	"github.com/ternarybob/verso/internal/pool"
)

// Tuner computes per-request tuning values from overrides, runtime context,
// configuration, and the host hardware, in that precedence order.
type Tuner struct {
	config *common.Config
	cache  *pool.Cache
	logger arbor.ILogger
}

// NewTuner creates a tuner over the given configuration and pool cache.
func NewTuner(config *common.Config, cache *pool.Cache, logger arbor.ILogger) *Tuner {
	return &Tuner{config: config, cache: cache, logger: logger}
}

// ThreadCount resolves translation parallelism for a request. A batch size
// above 1 combined with a local LLM provider forces a single thread: batched
// inference already saturates the GPU, and concurrent batches thrash it.
func (t *Tuner) ThreadCount(request *models.PipelineRequest) int {
	resolved := 0
	if request != nil && request.Payload != nil {
		if v, ok := request.Payload.OverrideInt("thread_count"); ok {
			resolved = v
		}
	}
	if resolved == 0 && request != nil {
		if v, ok := request.ContextInt("thread_count"); ok {
			resolved = v
		}
	}
	if resolved == 0 {
		resolved = t.config.Translation.ThreadCount
	}
	if resolved == 0 {
		resolved = runtime.NumCPU()
	}
	if resolved < 1 {
		resolved = 1
	}

	if request != nil && request.Payload != nil &&
		request.Payload.Inputs.BatchSize > 1 && t.provider(request) == "local" {
		return 1
	}
	return resolved
}

// QueueSize resolves the bounded work queue size for the translation pool.
func (t *Tuner) QueueSize(request *models.PipelineRequest) int {
	if request != nil && request.Payload != nil {
		if v, ok := request.Payload.OverrideInt("queue_size"); ok && v > 0 {
			return v
		}
	}
	if t.config.Pools.QueueSize > 0 {
		return t.config.Pools.QueueSize
	}
	return 64
}

// PipelineMode reports whether translation and media rendering run
// concurrently for this request.
func (t *Tuner) PipelineMode(request *models.PipelineRequest) bool {
	if request != nil && request.Payload != nil {
		if v, ok := request.Payload.OverrideBool("pipeline_mode"); ok {
			return v
		}
	}
	return true
}

// Summary packages the resolved tuning values attached to a job at
// submission and surfaced through progress events.
func (t *Tuner) Summary(request *models.PipelineRequest) *models.TuningSummary {
	return &models.TuningSummary{
		ThreadCount:   t.ThreadCount(request),
		QueueSize:     t.QueueSize(request),
		JobMaxWorkers: t.config.Jobs.MaxWorkers,
		PipelineMode:  t.PipelineMode(request),
	}
}

// AcquireWorkerPool fetches a pool sized for the job's request from the
// cache, marking the job as the pool's owner.
func (t *Tuner) AcquireWorkerPool(job *models.Job) (*pool.TranslationPool, bool) {
	workerCount := t.ThreadCount(job.Request)
	p, isNew := t.cache.Acquire(workerCount)
	job.OwnsTranslationPool = true
	t.logger.Debug().
		Str("job_id", job.ID).
		Int("worker_count", workerCount).
		Bool("is_new", isNew).
		Msg("Acquired translation pool")
	return p, isNew
}

// ReleaseWorkerPool returns the job's pool to the cache.
func (t *Tuner) ReleaseWorkerPool(job *models.Job, p *pool.TranslationPool) {
	if p == nil {
		return
	}
	t.cache.Release(p)
	job.OwnsTranslationPool = false
	t.logger.Debug().Str("job_id", job.ID).Msg("Released translation pool")
}

func (t *Tuner) provider(request *models.PipelineRequest) string {
	if request.Payload.Config.Provider != "" {
		return request.Payload.Config.Provider
	}
	return t.config.Translation.Provider
}
