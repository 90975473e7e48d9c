// Package manager implements the job orchestration core: submission with
// admission control, bounded execution, pause/resume with block-aligned
// checkpoints, and durable state across restarts.
package manager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/verso/internal/backpressure"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/locator"
	"github.com/ternarybob/verso/internal/metrics"
	"github.com/ternarybob/verso/internal/models"
	"github.com/ternarybob/verso/internal/persistence"
	"github.com/ternarybob/verso/internal/pool"
	"github.com/ternarybob/verso/internal/tuning"
)

// progressPersistInterval rate-limits store writes from chatty pipelines.
// Pause, cancel, and terminal persists are never throttled.
const progressPersistInterval = 2 * time.Second

// Options wires the manager's collaborators. Pipeline is required; Hooks,
// Events, Metrics, and MetadataInferrer are optional.
type Options struct {
	Config           *common.Config
	Store            interfaces.JobStore
	Pipeline         interfaces.Pipeline
	Hooks            interfaces.LifecycleHooks
	Events           interfaces.EventService
	Metrics          *metrics.Metrics
	MetadataInferrer interfaces.MetadataInferrer
	Logger           arbor.ILogger
}

// Manager is the orchestration facade. A single mutex guards the live job
// map and every store interaction; it is never held during the pipeline
// call or backpressure sleeps.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*models.Job

	config      *common.Config
	store       interfaces.JobStore
	persistence *persistence.Service
	locator     *locator.Locator
	factory     *RequestFactory
	coordinator *TransitionCoordinator
	executor    *Executor
	tuner       *tuning.Tuner
	cache       *pool.Cache
	admission   *backpressure.Controller
	inferrer    interfaces.MetadataInferrer
	events      interfaces.EventService
	metrics     *metrics.Metrics
	validate    *validator.Validate
	logger      arbor.ILogger

	limiters map[string]*rate.Limiter
	sem      chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewManager constructs the manager and restores persisted jobs. Jobs found
// RUNNING are reconciled to PAUSED: a previous process died mid-run and the
// pipeline is certainly not executing anymore.
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil || opts.Store == nil || opts.Pipeline == nil {
		return nil, fmt.Errorf("manager requires config, store, and pipeline")
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.GetLogger()
	}

	loc := locator.New(opts.Config.Storage.Root, opts.Config.Jobs.BaseURL)
	persistenceSvc := persistence.NewService(loc, logger)
	cache := pool.NewCache(
		opts.Config.Pools.MaxCached,
		opts.Config.Pools.IdleTimeout,
		opts.Config.Pools.QueueSize,
		logger,
	)
	tuner := tuning.NewTuner(opts.Config, cache, logger)

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		jobs:        make(map[string]*models.Job),
		config:      opts.Config,
		store:       opts.Store,
		persistence: persistenceSvc,
		locator:     loc,
		factory:     NewRequestFactory(loc, logger),
		tuner:       tuner,
		cache:       cache,
		admission:   backpressure.NewController(opts.Config.Backpressure, logger),
		inferrer:    opts.MetadataInferrer,
		events:      opts.Events,
		metrics:     opts.Metrics,
		validate:    validator.New(),
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
		sem:         make(chan struct{}, opts.Config.Jobs.MaxWorkers),
		ctx:         ctx,
		cancel:      cancel,
	}
	m.coordinator = newTransitionCoordinator(&m.mu, m.jobs, opts.Store, persistenceSvc, opts.Events, logger)
	m.coordinator.dispatch = m.dispatch
	m.executor = newExecutor(&m.mu, opts.Pipeline, tuner, persistenceSvc, opts.Store, opts.Hooks, opts.Metrics, opts.Events, logger)

	if err := m.restore(ctx); err != nil {
		cancel()
		return nil, err
	}
	return m, nil
}

// restore loads persisted jobs, reconciling interrupted runs. Hydration
// failures are logged and the record skipped; the manager still starts.
func (m *Manager) restore(ctx context.Context) error {
	records, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persisted jobs: %w", err)
	}

	restored, reconciled := 0, 0
	for jobID, metadata := range records {
		if metadata.Status == models.JobStatusRunning || metadata.Status == models.JobStatusPausing {
			metadata.Status = models.JobStatusPaused
			if metadata.ResumeContext == nil && metadata.RequestPayload != nil {
				// No checkpoint was persisted; resume from the original start.
				metadata.ResumeContext = &models.ResumeContext{
					Payload:    metadata.RequestPayload.Clone(),
					BlockStart: metadata.RequestPayload.Inputs.StartSentence,
				}
			}
			if err := m.store.Update(ctx, metadata); err != nil {
				m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist restart reconciliation")
			}
			reconciled++
		}

		job, err := m.persistence.Hydrate(metadata)
		if err != nil {
			m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Skipping corrupt job record during restore")
			continue
		}
		if !job.IsTerminal() {
			m.jobs[job.ID] = job
		}
		restored++
	}

	m.logger.Info().
		Int("restored", restored).
		Int("reconciled", reconciled).
		Msg("Job store restored")
	return nil
}

// Submit validates and admits a new job, persists it, and dispatches it to
// the executor pool. The returned job reflects the pending state.
func (m *Manager) Submit(ctx context.Context, payload *models.RequestPayload, userID, userRole string) (*models.Job, error) {
	if payload == nil {
		return nil, fmt.Errorf("request payload is required")
	}
	if err := m.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}
	if err := models.ValidateOverrideKeys(payload.PipelineOverrides); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}
	if err := models.ValidateOverrideKeys(payload.EnvOverrides); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}

	// Admission control. The delay sleep happens without the lock.
	verdict, delay := m.admission.Check(m.queueDepth())
	switch verdict {
	case backpressure.VerdictReject:
		if m.metrics != nil {
			m.metrics.Rejections.Inc()
		}
		return nil, models.ErrQueueFull
	case backpressure.VerdictDelay:
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	jobType := payload.JobType
	if jobType == "" {
		jobType = models.JobTypePipeline
	}
	job := models.NewJob(common.NewJobID(), jobType, userID, userRole)
	if payload.CorrelationID == "" {
		payload.CorrelationID = common.NewCorrelationID()
	}
	job.CorrelationID = payload.CorrelationID
	job.RequestPayload = payload.Clone()

	if err := m.locator.EnsureLayout(job.ID); err != nil {
		return nil, fmt.Errorf("failed to create job layout: %w", err)
	}
	m.mirrorSource(job)

	request := m.factory.Build(job, m.progressObserver(job))
	job.TuningSummary = m.tuner.Summary(request)
	request.RuntimeContext["thread_count"] = job.TuningSummary.ThreadCount
	request.RuntimeContext["queue_size"] = job.TuningSummary.QueueSize

	m.mu.Lock()
	metadata, err := m.persistence.Snapshot(job)
	if err == nil {
		err = m.store.Save(ctx, metadata)
	}
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to persist submission: %w", err)
	}
	m.jobs[job.ID] = job
	m.limiters[job.ID] = rate.NewLimiter(rate.Every(progressPersistInterval), 1)
	snapshot := job.Clone()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Submissions.Inc()
	}
	m.updateActiveGauge()
	if m.events != nil {
		m.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobSubmitted, Payload: job.ID})
	}
	m.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("user_id", userID).
		Msg("Job submitted")

	m.dispatch(job)
	return snapshot, nil
}

// mirrorSource copies the submission's input file into the job's data
// directory. Best effort: a missing source is the pipeline's problem to
// report, not submission's.
func (m *Manager) mirrorSource(job *models.Job) {
	input := job.RequestPayload.Inputs.InputFile
	if input == "" {
		return
	}
	src, err := os.Open(input)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Str("input_file", input).Msg("Cannot mirror source file")
		return
	}
	defer src.Close()

	target := filepath.Join(m.locator.DataDir(job.ID), filepath.Base(input))
	dst, err := os.Create(target)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Cannot create source mirror")
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Source mirror copy failed")
	}
}

// dispatch hands the job to a bounded executor worker.
func (m *Manager) dispatch(job *models.Job) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-m.ctx.Done():
			return
		}
		m.executor.Execute(m.ctx, job)
		m.onSettled(job)
	}()
}

// onSettled cleans per-job scheduling state after an execution ends.
func (m *Manager) onSettled(job *models.Job) {
	m.mu.Lock()
	if job.IsTerminal() {
		delete(m.limiters, job.ID)
	}
	m.mu.Unlock()
	m.updateActiveGauge()
}

// updateActiveGauge resets the active-jobs gauge to the current depth.
func (m *Manager) updateActiveGauge() {
	if m.metrics != nil {
		m.metrics.ActiveJobs.Set(float64(m.queueDepth()))
	}
}

// progressObserver returns the tracker observer that keeps the persisted
// snapshot in sync with pipeline progress. Runs on the pipeline's
// goroutine, never under the manager lock at event-publish time.
func (m *Manager) progressObserver(job *models.Job) models.ProgressObserver {
	return func(event *models.ProgressEvent) {
		if m.metrics != nil {
			m.metrics.ProgressEvents.Inc()
		}

		m.mu.Lock()
		job.LastEvent = event
		if gf := event.Snapshot.GeneratedFiles; gf != nil {
			if job.GeneratedFiles == nil {
				job.GeneratedFiles = &models.GeneratedFiles{}
			}
			job.GeneratedFiles.Merge(gf)
		}
		if job.Status == models.JobStatusRunning {
			if rc := BuildResumeContext(job); rc != nil {
				job.ResumeContext = rc
			}
		}
		limiter := m.limiters[job.ID]
		persist := limiter == nil || limiter.Allow()
		if persist {
			if metadata, err := m.persistence.Snapshot(job); err == nil {
				if err := m.store.Update(m.ctx, metadata); err != nil {
					m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Progress persist failed")
				}
			} else {
				m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Progress snapshot failed")
			}
		}
		m.mu.Unlock()

		if m.events != nil {
			m.events.Publish(m.ctx, interfaces.Event{
				Type: interfaces.EventJobProgress,
				Payload: map[string]interface{}{
					"job_id": job.ID,
					"event":  event,
				},
			})
		}
	}
}

// queueDepth counts jobs occupying executor capacity.
func (m *Manager) queueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	depth := 0
	for _, job := range m.jobs {
		if job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning {
			depth++
		}
	}
	return depth
}

// Get returns one job visible to the caller. Live jobs are snapshotted
// under the lock; the caller can encode the result while the executor keeps
// mutating the original.
func (m *Manager) Get(ctx context.Context, jobID, userID, userRole string) (*models.Job, error) {
	m.mu.Lock()
	var job *models.Job
	if live, ok := m.jobs[jobID]; ok {
		job = live.Clone()
	}
	m.mu.Unlock()

	if job == nil {
		metadata, err := m.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		job, err = m.persistence.Hydrate(metadata)
		if err != nil {
			return nil, err
		}
	}
	if userRole != "admin" && job.UserID != userID {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

// List returns every job visible to the caller, newest first. Live jobs win
// over their persisted snapshots.
func (m *Manager) List(ctx context.Context, userID, userRole string) ([]*models.Job, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	m.mu.Lock()
	jobs := make(map[string]*models.Job, len(records)+len(m.jobs))
	for jobID, metadata := range records {
		job, err := m.persistence.Hydrate(metadata)
		if err != nil {
			m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Skipping corrupt job record in list")
			continue
		}
		jobs[jobID] = job
	}
	for jobID, job := range m.jobs {
		jobs[jobID] = job.Clone()
	}
	m.mu.Unlock()

	visible := make([]*models.Job, 0, len(jobs))
	for _, job := range jobs {
		if userRole == "admin" || job.UserID == userID {
			visible = append(visible, job)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].CreatedAt.After(visible[j].CreatedAt)
		}
		return visible[i].ID < visible[j].ID
	})
	return visible, nil
}

// Pause requests a graceful stop of a running job.
func (m *Manager) Pause(ctx context.Context, jobID, userID, userRole string) error {
	return m.coordinator.Pause(ctx, jobID, userID, userRole)
}

// Resume re-dispatches a paused job from its checkpoint.
func (m *Manager) Resume(ctx context.Context, jobID, userID, userRole string) error {
	err := m.coordinator.Resume(ctx, jobID, userID, userRole, m.factory, m.progressObserver)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if _, exists := m.limiters[jobID]; !exists {
		m.limiters[jobID] = rate.NewLimiter(rate.Every(progressPersistInterval), 1)
	}
	m.mu.Unlock()
	m.updateActiveGauge()
	return nil
}

// Cancel terminates a job, keeping artifacts generated so far.
func (m *Manager) Cancel(ctx context.Context, jobID, userID, userRole string) error {
	err := m.coordinator.Cancel(ctx, jobID, userID, userRole)
	if err == nil {
		m.updateActiveGauge()
	}
	return err
}

// Delete removes a settled job from memory and store.
func (m *Manager) Delete(ctx context.Context, jobID, userID, userRole string) error {
	return m.coordinator.Delete(ctx, jobID, userID, userRole)
}

// Finish records a terminal state from the trusted executor path.
func (m *Manager) Finish(ctx context.Context, jobID string, status models.JobStatus, errorMessage string, resultPayload map[string]interface{}) error {
	return m.coordinator.Finish(ctx, jobID, status, errorMessage, resultPayload)
}

// RefreshMetadata re-runs metadata inference against the job's input file
// and merges the result into both the request payload and the result
// payload. The inference call runs without the lock.
func (m *Manager) RefreshMetadata(ctx context.Context, jobID, userID, userRole string, forceRefresh bool) error {
	if m.inferrer == nil {
		return fmt.Errorf("metadata inference is not configured")
	}

	// Work on the live job: Get hands out snapshots, and the merge below
	// must land on the instance the executor and observers see.
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		metadata, err := m.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		job, err = m.persistence.Hydrate(metadata)
		if err != nil {
			return err
		}
	}
	if userRole != "admin" && job.UserID != userID {
		return models.ErrJobNotFound
	}

	var inputFile string
	var existing map[string]interface{}
	m.mu.Lock()
	if job.RequestPayload != nil {
		inputFile = job.RequestPayload.Inputs.InputFile
		existing = cloneAnyMap(job.RequestPayload.Metadata)
	}
	m.mu.Unlock()

	inferred, err := m.inferrer(ctx, inputFile, existing, forceRefresh)
	if err != nil {
		return fmt.Errorf("metadata inference failed for job %s: %w", jobID, err)
	}
	if inferred == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if job.RequestPayload != nil {
		if job.RequestPayload.Metadata == nil {
			job.RequestPayload.Metadata = make(map[string]interface{}, len(inferred))
		}
		for k, v := range inferred {
			job.RequestPayload.Metadata[k] = v
		}
	}
	if job.ResultPayload == nil {
		job.ResultPayload = make(map[string]interface{})
	}
	job.ResultPayload["metadata"] = inferred

	metadata, err := m.persistence.Snapshot(job)
	if err == nil {
		err = m.store.Update(ctx, metadata)
	}
	if err != nil {
		return fmt.Errorf("failed to persist refreshed metadata for job %s: %w", jobID, err)
	}
	return nil
}

// Locator exposes the artifact-tree locator for file-serving handlers.
func (m *Manager) Locator() *locator.Locator {
	return m.locator
}

// Stats reports queue and cache counters for the stats endpoint.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	byStatus := make(map[string]int)
	for _, job := range m.jobs {
		byStatus[string(job.Status)]++
	}
	total := len(m.jobs)
	m.mu.Unlock()

	return map[string]interface{}{
		"jobs_in_memory": total,
		"jobs_by_status": byStatus,
		"queue_depth":    m.queueDepth(),
		"backpressure":   m.admission.Snapshot(),
		"pool_cache":     m.cache.Stats(),
	}
}

// Maintenance evicts settled jobs from the live map. Invoked on the cron
// schedule; the store keeps the durable record.
func (m *Manager) Maintenance() {
	m.mu.Lock()
	evicted := 0
	for jobID, job := range m.jobs {
		if job.IsTerminal() {
			delete(m.jobs, jobID)
			delete(m.limiters, jobID)
			evicted++
		}
	}
	m.mu.Unlock()
	if evicted > 0 {
		m.logger.Info().Int("evicted", evicted).Msg("Evicted settled jobs from memory")
	}
}

// Shutdown stops dispatching, waits for in-flight executions up to the
// context deadline, and shuts the pool cache down.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown timed out waiting for executions: %w", ctx.Err())
	}

	m.cache.ShutdownAll()
	m.logger.Info().Msg("Job manager stopped")
	return err
}

func cloneAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
