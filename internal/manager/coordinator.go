package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/models"
	"github.com/ternarybob/verso/internal/persistence"
)

// TransitionCoordinator centralizes every externally-driven state mutation.
// Each operation runs under the manager lock: load, authorize, transition,
// persist. A failed persist rolls the in-memory change back so memory and
// store never diverge.
type TransitionCoordinator struct {
	mu          *sync.Mutex
	jobs        map[string]*models.Job
	store       interfaces.JobStore
	persistence *persistence.Service
	events      interfaces.EventService
	logger      arbor.ILogger

	// dispatch re-queues a resumed job onto the executor pool. Set by the
	// manager after construction.
	dispatch func(job *models.Job)
}

func newTransitionCoordinator(
	mu *sync.Mutex,
	jobs map[string]*models.Job,
	store interfaces.JobStore,
	persistenceSvc *persistence.Service,
	events interfaces.EventService,
	logger arbor.ILogger,
) *TransitionCoordinator {
	return &TransitionCoordinator{
		mu:          mu,
		jobs:        jobs,
		store:       store,
		persistence: persistenceSvc,
		events:      events,
		logger:      logger,
	}
}

// authorize applies the access predicate: admins mutate any job, everyone
// else only their own. Runs before any mutation.
func authorize(job *models.Job, userID, userRole string) error {
	if userRole == "admin" {
		return nil
	}
	if job.UserID == userID {
		return nil
	}
	return fmt.Errorf("user %s cannot mutate job %s: %w", userID, job.ID, models.ErrPermissionDenied)
}

// loadLocked returns the live job, falling back to a store hydration for
// jobs evicted from memory. Caller holds the lock.
func (c *TransitionCoordinator) loadLocked(ctx context.Context, jobID string) (*models.Job, error) {
	if job, ok := c.jobs[jobID]; ok {
		return job, nil
	}
	metadata, err := c.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return c.persistence.Hydrate(metadata)
}

// persistLocked snapshots and updates the store. Caller holds the lock.
func (c *TransitionCoordinator) persistLocked(ctx context.Context, job *models.Job) error {
	metadata, err := c.persistence.Snapshot(job)
	if err != nil {
		return fmt.Errorf("failed to snapshot job %s: %w", job.ID, err)
	}
	if err := c.store.Update(ctx, metadata); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}
	return nil
}

// Pause requests a graceful stop of a running pipeline job. The job moves to
// PAUSING; the executor finishes the move to PAUSED once the pipeline
// returns. When media rendering already completed there is nothing left to
// interrupt and the job lands directly on PAUSED.
func (c *TransitionCoordinator) Pause(ctx context.Context, jobID, userID, userRole string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.loadLocked(ctx, jobID)
	if err != nil {
		return err
	}
	if err := authorize(job, userID, userRole); err != nil {
		return err
	}
	if !job.Type.SupportsPause() {
		return fmt.Errorf("job type %s does not support pause", job.Type)
	}
	if job.Status != models.JobStatusRunning {
		return models.NewTransitionError(job.ID, job.Status, models.JobStatusPausing)
	}

	prevStatus := job.Status
	prevResume := job.ResumeContext
	prevMedia := job.MediaCompleted

	EnsureResumeContext(job)
	if err := job.Transition(models.JobStatusPausing); err != nil {
		job.ResumeContext = prevResume
		return err
	}
	if job.StopEvent != nil {
		job.StopEvent.Signal()
	}
	if job.Tracker != nil && job.Tracker.MediaCompleted() {
		// Rendering reached the end of the source; nothing is in flight.
		job.MediaCompleted = true
		if err := job.Transition(models.JobStatusPaused); err != nil {
			job.Status = prevStatus
			job.ResumeContext = prevResume
			job.MediaCompleted = prevMedia
			return err
		}
	}

	if err := c.persistLocked(ctx, job); err != nil {
		job.Status = prevStatus
		job.ResumeContext = prevResume
		job.MediaCompleted = prevMedia
		return err
	}

	c.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Msg("Pause requested")
	c.publishStatusChange(ctx, job)
	return nil
}

// Resume rehydrates a paused job into a fresh pending execution. The
// request factory attaches a new stop event and reuses the resume-context
// payload so the run restarts at the block-aligned checkpoint.
func (c *TransitionCoordinator) Resume(ctx context.Context, jobID, userID, userRole string, factory *RequestFactory, observerFor func(*models.Job) models.ProgressObserver) error {
	c.mu.Lock()

	job, err := c.loadLocked(ctx, jobID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := authorize(job, userID, userRole); err != nil {
		c.mu.Unlock()
		return err
	}
	if job.Status != models.JobStatusPaused {
		c.mu.Unlock()
		return models.NewTransitionError(job.ID, job.Status, models.JobStatusPending)
	}

	prevStatus := job.Status
	job.ClearResults()
	job.Tracker = nil
	var observer models.ProgressObserver
	if observerFor != nil {
		observer = observerFor(job)
	}
	factory.Build(job, observer)
	if err := job.Transition(models.JobStatusPending); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.persistLocked(ctx, job); err != nil {
		job.Status = prevStatus
		c.mu.Unlock()
		return err
	}
	c.jobs[job.ID] = job
	c.mu.Unlock()

	c.logger.Info().Str("job_id", job.ID).Msg("Job resumed")
	c.publishStatusChange(ctx, job)
	if c.dispatch != nil {
		c.dispatch(job)
	}
	return nil
}

// Cancel terminates a job from any non-terminal state, preserving artifacts
// generated so far. Results and error message are cleared; a cancelled job
// carries neither.
func (c *TransitionCoordinator) Cancel(ctx context.Context, jobID, userID, userRole string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.loadLocked(ctx, jobID)
	if err != nil {
		return err
	}
	if err := authorize(job, userID, userRole); err != nil {
		return err
	}
	if job.IsTerminal() {
		return models.NewTransitionError(job.ID, job.Status, models.JobStatusCancelled)
	}

	prevStatus := job.Status
	prevCompleted := job.CompletedAt

	if job.Tracker != nil {
		if snapshot := job.Tracker.GeneratedSnapshot(); snapshot != nil {
			if job.GeneratedFiles == nil {
				job.GeneratedFiles = &models.GeneratedFiles{}
			}
			job.GeneratedFiles.Merge(snapshot)
		}
	}
	if job.StopEvent != nil {
		job.StopEvent.Signal()
	}
	if err := job.Transition(models.JobStatusCancelled); err != nil {
		return err
	}
	job.ClearResults()

	if err := c.persistLocked(ctx, job); err != nil {
		job.Status = prevStatus
		job.CompletedAt = prevCompleted
		return err
	}

	c.logger.Info().Str("job_id", job.ID).Str("from", string(prevStatus)).Msg("Job cancelled")
	c.publishStatusChange(ctx, job)
	return nil
}

// deletableStatuses enumerates the states a job may be deleted from.
var deletableStatuses = map[models.JobStatus]bool{
	models.JobStatusCompleted: true,
	models.JobStatusFailed:    true,
	models.JobStatusCancelled: true,
	models.JobStatusPaused:    true,
}

// Delete removes a settled job from both memory and store. The artifact
// tree on disk is left in place.
func (c *TransitionCoordinator) Delete(ctx context.Context, jobID, userID, userRole string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.loadLocked(ctx, jobID)
	if err != nil {
		return err
	}
	if err := authorize(job, userID, userRole); err != nil {
		return err
	}
	if !deletableStatuses[job.Status] {
		return fmt.Errorf("job %s cannot be deleted while %s", job.ID, job.Status)
	}

	if err := c.store.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	delete(c.jobs, jobID)

	c.logger.Info().Str("job_id", jobID).Msg("Job deleted")
	if c.events != nil {
		c.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobDeleted, Payload: jobID})
	}
	return nil
}

// Finish records a terminal state on behalf of the executor. Authorization
// is bypassed: the call originates inside the trusted executor path, which
// has no end-user identity.
func (c *TransitionCoordinator) Finish(ctx context.Context, jobID string, status models.JobStatus, errorMessage string, resultPayload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.loadLocked(ctx, jobID)
	if err != nil {
		return err
	}
	if !status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}

	prevStatus := job.Status
	prevError := job.ErrorMessage
	prevResult := job.ResultPayload
	prevCompleted := job.CompletedAt

	if err := job.Transition(status); err != nil {
		return err
	}
	job.ErrorMessage = errorMessage
	if resultPayload != nil {
		job.ResultPayload = resultPayload
	}

	if err := c.persistLocked(ctx, job); err != nil {
		job.Status = prevStatus
		job.ErrorMessage = prevError
		job.ResultPayload = prevResult
		job.CompletedAt = prevCompleted
		return err
	}

	c.publishStatusChange(ctx, job)
	return nil
}

func (c *TransitionCoordinator) publishStatusChange(ctx context.Context, job *models.Job) {
	if c.events == nil {
		return
	}
	c.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventJobStatusChange,
		Payload: map[string]interface{}{
			"job_id": job.ID,
			"status": string(job.Status),
		},
	})
}
