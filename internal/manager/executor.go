package manager

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/metrics"
	"github.com/ternarybob/verso/internal/models"
	"github.com/ternarybob/verso/internal/persistence"
	"github.com/ternarybob/verso/internal/pool"
	"github.com/ternarybob/verso/internal/tuning"
)

// Executor runs one job to completion on a manager worker. It owns the
// status transitions around the pipeline call and never holds the manager
// lock while the pipeline is running.
type Executor struct {
	mu          *sync.Mutex
	pipeline    interfaces.Pipeline
	tuner       *tuning.Tuner
	persistence *persistence.Service
	store       interfaces.JobStore
	hooks       interfaces.LifecycleHooks
	metrics     *metrics.Metrics
	events      interfaces.EventService
	logger      arbor.ILogger
}

func newExecutor(
	mu *sync.Mutex,
	pipeline interfaces.Pipeline,
	tuner *tuning.Tuner,
	persistenceSvc *persistence.Service,
	store interfaces.JobStore,
	hooks interfaces.LifecycleHooks,
	m *metrics.Metrics,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Executor {
	return &Executor{
		mu:          mu,
		pipeline:    pipeline,
		tuner:       tuner,
		persistence: persistenceSvc,
		store:       store,
		hooks:       hooks,
		metrics:     m,
		events:      events,
		logger:      logger,
	}
}

// Execute drives one run of the job's pipeline request.
func (e *Executor) Execute(ctx context.Context, job *models.Job) {
	logger := e.logger
	if job.CorrelationID != "" {
		logger = e.logger.WithCorrelationId(job.CorrelationID)
	}

	// Step 1: mark running, persist.
	e.mu.Lock()
	if err := job.Transition(models.JobStatusRunning); err != nil {
		// Cancelled while queued; nothing to run.
		e.mu.Unlock()
		logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Skipping execution")
		return
	}
	e.persistLocked(ctx, job, logger)
	e.mu.Unlock()
	e.publishStatusChange(ctx, job)

	if e.hooks != nil {
		e.hooks.OnStart(job)
	}

	started := time.Now()
	logger.Info().Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("Job execution started")

	// Step 4: translation pool, owned by this run.
	var workerPool *pool.TranslationPool
	if e.tuner != nil {
		var isNew bool
		workerPool, isNew = e.tuner.AcquireWorkerPool(job)
		if e.metrics != nil {
			e.metrics.RecordPoolAcquire(isNew)
		}
	}
	if job.Request != nil && workerPool != nil {
		job.Request.RuntimeContext["worker_count"] = workerPool.WorkerCount()
	}

	// Step 5: the pipeline call. The lock is not held here.
	response, pipelineErr := e.runPipeline(ctx, job)

	// Steps 6-8: settle under lock.
	e.mu.Lock()
	e.settleLocked(ctx, job, response, pipelineErr, logger)

	if e.tuner != nil && workerPool != nil {
		e.tuner.ReleaseWorkerPool(job, workerPool)
	}
	e.finishTracker(job)
	e.persistLocked(ctx, job, logger)
	finalStatus := job.Status
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ObserveJobDuration(string(finalStatus), time.Since(started))
	}
	e.publishStatusChange(ctx, job)
	e.invokeHooks(job, finalStatus, pipelineErr)

	logger.Info().
		Str("job_id", job.ID).
		Str("status", string(finalStatus)).
		Dur("duration", time.Since(started)).
		Msg("Job execution finished")
}

// runPipeline invokes the opaque callable, converting panics into errors so
// a misbehaving pipeline cannot take the worker down.
func (e *Executor) runPipeline(ctx context.Context, job *models.Job) (response *models.PipelineResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &pipelinePanicError{value: r}
		}
	}()
	return e.pipeline(ctx, job.Request)
}

type pipelinePanicError struct{ value interface{} }

func (p *pipelinePanicError) Error() string {
	return "pipeline panicked: " + toString(p.value)
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}

// settleLocked applies the post-pipeline status logic. Caller holds the lock.
func (e *Executor) settleLocked(ctx context.Context, job *models.Job, response *models.PipelineResponse, pipelineErr error, logger arbor.ILogger) {
	switch job.Status {
	case models.JobStatusCancelled:
		job.ClearResults()
		return

	case models.JobStatusPausing:
		if response != nil && response.GeneratedFiles != nil {
			e.mergeGenerated(job, response.GeneratedFiles)
		}
		if job.Tracker != nil {
			job.MediaCompleted = job.Tracker.MediaCompleted()
		}
		EnsureResumeContext(job)
		if err := job.Transition(models.JobStatusPaused); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to settle pausing job")
		}
		return

	case models.JobStatusPaused:
		job.ClearResults()
		return
	}

	// Still RUNNING: the pipeline finished on its own. Interruptions never
	// land here; Pause and Cancel move the status off RUNNING under the same
	// lock that signals the stop event, so they hit the cases above.
	if pipelineErr != nil {
		job.ErrorMessage = pipelineErr.Error()
		if err := job.Transition(models.JobStatusFailed); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
		}
		return
	}

	if response != nil && response.GeneratedFiles != nil {
		e.mergeGenerated(job, response.GeneratedFiles)
	}
	if response != nil && response.Success {
		job.ResultPayload = response.ResultPayload
		job.MediaCompleted = response.MediaCompleted
		if err := job.Transition(models.JobStatusCompleted); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job completed")
		}
		return
	}

	if response != nil {
		job.ErrorMessage = response.ErrorMessage
	}
	if job.ErrorMessage == "" {
		job.ErrorMessage = "pipeline reported failure"
	}
	if err := job.Transition(models.JobStatusFailed); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
	}
}

func (e *Executor) mergeGenerated(job *models.Job, files *models.GeneratedFiles) {
	if job.GeneratedFiles == nil {
		job.GeneratedFiles = &models.GeneratedFiles{}
	}
	job.GeneratedFiles.Merge(files)
}

// finishTracker records the run's final state on the tracker. Caller holds
// the lock; tracker methods are themselves thread-safe.
func (e *Executor) finishTracker(job *models.Job) {
	if job.Tracker == nil {
		return
	}
	switch job.Status {
	case models.JobStatusCompleted:
		job.Tracker.Completed()
	case models.JobStatusFailed:
		job.Tracker.Failed()
	case models.JobStatusCancelled:
		job.Tracker.Cancelled()
	}
}

// persistLocked snapshots the job; failures are logged and counted but do
// not abort execution. Caller holds the lock.
func (e *Executor) persistLocked(ctx context.Context, job *models.Job, logger arbor.ILogger) {
	metadata, err := e.persistence.Snapshot(job)
	if err == nil {
		err = e.store.Update(ctx, metadata)
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.PersistFailures.Inc()
		}
		logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job snapshot")
	}
}

func (e *Executor) invokeHooks(job *models.Job, status models.JobStatus, pipelineErr error) {
	if e.hooks == nil {
		return
	}
	switch status {
	case models.JobStatusCompleted:
		e.hooks.OnFinish(job)
	case models.JobStatusFailed:
		e.hooks.OnFailure(job, pipelineErr)
	case models.JobStatusPaused, models.JobStatusCancelled:
		e.hooks.OnInterrupted(job)
	}
}

func (e *Executor) publishStatusChange(ctx context.Context, job *models.Job) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventJobStatusChange,
		Payload: map[string]interface{}{
			"job_id": job.ID,
			"status": string(job.Status),
		},
	})
}
