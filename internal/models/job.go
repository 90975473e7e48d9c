// -----------------------------------------------------------------------
// Job - live unit of work tracked by the manager from submission to
// terminal state
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPausing   JobStatus = "pausing"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType classifies a job and determines which operations apply to it
type JobType string

const (
	JobTypePipeline JobType = "pipeline" // Full translation + rendering pipeline
	JobTypeSubtitle JobType = "subtitle" // Subtitle generation only
	JobTypeCustom   JobType = "custom"   // Caller-defined work
)

// SupportsPause reports whether pause/resume are valid operations for this
// job type. Only the sentence-oriented pipeline checkpoints its progress.
func (t JobType) SupportsPause() bool {
	return t == JobTypePipeline
}

// validTransitions is the single source of truth for the job state machine.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusPausing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusPausing: {JobStatusPaused, JobStatusCancelled, JobStatusFailed},
	JobStatusPaused:  {JobStatusPending, JobStatusCancelled},
	// Terminal states admit no transitions; delete is not a transition.
	JobStatusCompleted: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// CanTransitionTo reports whether the state machine permits moving from s
// to target.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	for _, next := range validTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states that admit no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// TransitionError reports an attempt to move a job along an edge the state
// machine does not define.
type TransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

// NewTransitionError creates a TransitionError for the given job and edge.
func NewTransitionError(jobID string, from, to JobStatus) *TransitionError {
	return &TransitionError{JobID: jobID, From: from, To: to}
}

// Job is the live, in-memory representation of one unit of work. The
// serializable view is PipelineJobMetadata; Request, Tracker and StopEvent
// are process-local and recreated when a job is rehydrated from storage.
type Job struct {
	ID        string     `json:"id"`
	Type      JobType    `json:"job_type"`
	Status    JobStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Process-local execution state, never persisted.
	Request   *PipelineRequest `json:"-"`
	Tracker   *Tracker         `json:"-"`
	StopEvent *StopEvent       `json:"-"`

	// OwnsTranslationPool is true iff the executor acquired a worker pool
	// for this job and is responsible for releasing it.
	OwnsTranslationPool bool `json:"-"`

	RequestPayload *RequestPayload        `json:"request_payload,omitempty"`
	ResumeContext  *ResumeContext         `json:"resume_context,omitempty"`
	LastEvent      *ProgressEvent         `json:"last_event,omitempty"`
	ResultPayload  map[string]interface{} `json:"result_payload,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	GeneratedFiles *GeneratedFiles        `json:"generated_files,omitempty"`
	MediaCompleted bool                   `json:"media_completed"`
	TuningSummary  *TuningSummary         `json:"tuning_summary,omitempty"`
	SentenceFiles  []string               `json:"sentence_files,omitempty"`

	UserID        string `json:"user_id"`
	UserRole      string `json:"user_role"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewJob creates a pending job shell for a fresh submission.
func NewJob(id string, jobType JobType, userID, userRole string) *Job {
	return &Job{
		ID:        id,
		Type:      jobType,
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
		UserID:    userID,
		UserRole:  userRole,
	}
}

// Transition moves the job to target if the state machine allows it,
// stamping started_at / completed_at as required by the lifecycle
// invariants. Callers hold the manager lock.
func (j *Job) Transition(target JobStatus) error {
	if !j.Status.CanTransitionTo(target) {
		return NewTransitionError(j.ID, j.Status, target)
	}
	now := time.Now().UTC()
	// Every post-pending status carries started_at; a job cancelled straight
	// from the queue gets started_at == completed_at.
	if target != JobStatusPending && j.StartedAt == nil {
		j.StartedAt = &now
	}
	if target.IsTerminal() && j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	if target == JobStatusPending {
		// Resume path: the job will run again.
		j.CompletedAt = nil
	}
	j.Status = target
	return nil
}

// IsTerminal returns true when the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone deep-copies the job's serializable state. The copy is what leaves
// the manager: callers can read and encode it without holding the manager
// lock while the executor mutates the original. Process-local execution
// state (Request, Tracker, StopEvent) is not carried over.
func (j *Job) Clone() *Job {
	clone := *j
	clone.Request = nil
	clone.Tracker = nil
	clone.StopEvent = nil
	if j.StartedAt != nil {
		t := *j.StartedAt
		clone.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}
	clone.RequestPayload = j.RequestPayload.Clone()
	clone.ResumeContext = j.ResumeContext.Clone()
	clone.LastEvent = j.LastEvent.Clone()
	clone.ResultPayload = cloneMap(j.ResultPayload)
	clone.GeneratedFiles = j.GeneratedFiles.Clone()
	if j.TuningSummary != nil {
		ts := *j.TuningSummary
		clone.TuningSummary = &ts
	}
	clone.SentenceFiles = append([]string(nil), j.SentenceFiles...)
	return &clone
}

// ClearResults wipes result and error fields, used on resume and when a
// cancelled run returns.
func (j *Job) ClearResults() {
	j.ResultPayload = nil
	j.ErrorMessage = ""
}
