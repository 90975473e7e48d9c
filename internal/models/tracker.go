// -----------------------------------------------------------------------
// Tracker - observable progress sink attached to each job
// -----------------------------------------------------------------------

package models

import "sync"

// TrackerFinalState records how a run ended from the tracker's perspective.
type TrackerFinalState string

const (
	TrackerStateNone      TrackerFinalState = ""
	TrackerStateCompleted TrackerFinalState = "completed"
	TrackerStateFailed    TrackerFinalState = "failed"
	TrackerStateCancelled TrackerFinalState = "cancelled"
)

// ProgressObserver receives every event published to a tracker. Observers
// run on the publishing goroutine (the pipeline's), never under the manager
// lock.
type ProgressObserver func(event *ProgressEvent)

// Tracker is the thread-safe progress sink registered on a job. It
// accumulates the generated-files manifest, retry counters, and completion
// flags, and fans events out to registered observers.
type Tracker struct {
	mu         sync.Mutex
	jobID      string
	lastEvent  *ProgressEvent
	generated  *GeneratedFiles
	observers  []ProgressObserver
	retries    int
	mediaDone  bool
	finalState TrackerFinalState
}

// NewTracker creates a tracker for the given job.
func NewTracker(jobID string) *Tracker {
	return &Tracker{jobID: jobID}
}

// JobID returns the job this tracker belongs to.
func (t *Tracker) JobID() string {
	return t.jobID
}

// AddObserver registers an observer for subsequent events.
func (t *Tracker) AddObserver(observer ProgressObserver) {
	t.mu.Lock()
	t.observers = append(t.observers, observer)
	t.mu.Unlock()
}

// Publish records the event and delivers it to every observer on the
// calling goroutine. The event is cloned first so later pipeline mutations
// of metadata maps cannot race retained copies.
func (t *Tracker) Publish(event *ProgressEvent) {
	if event == nil {
		return
	}
	clone := event.Clone()

	t.mu.Lock()
	t.lastEvent = clone
	if gf := clone.Snapshot.GeneratedFiles; gf != nil {
		if t.generated == nil {
			t.generated = &GeneratedFiles{}
		}
		t.generated.Merge(gf)
	}
	if clone.Metadata != nil {
		if done, ok := clone.Metadata["media_completed"].(bool); ok && done {
			t.mediaDone = true
		}
	}
	observers := make([]ProgressObserver, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	for _, observer := range observers {
		observer(clone)
	}
}

// LastEvent returns the most recent event observed, or nil.
func (t *Tracker) LastEvent() *ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEvent
}

// GeneratedSnapshot returns a copy of the accumulated artifact manifest.
func (t *Tracker) GeneratedSnapshot() *GeneratedFiles {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generated.Clone()
}

// IncrementRetries bumps the retry counter and returns the new value.
func (t *Tracker) IncrementRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries++
	return t.retries
}

// Retries returns the accumulated retry count.
func (t *Tracker) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// MediaCompleted reports whether rendering reached the end of the source.
func (t *Tracker) MediaCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mediaDone
}

// Completed marks the tracker's final state as completed.
func (t *Tracker) Completed() { t.setFinal(TrackerStateCompleted) }

// Failed marks the tracker's final state as failed.
func (t *Tracker) Failed() { t.setFinal(TrackerStateFailed) }

// Cancelled marks the tracker's final state as cancelled.
func (t *Tracker) Cancelled() { t.setFinal(TrackerStateCancelled) }

// FinalState returns the recorded final state, if any.
func (t *Tracker) FinalState() TrackerFinalState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalState
}

func (t *Tracker) setFinal(state TrackerFinalState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalState == TrackerStateNone {
		t.finalState = state
	}
}
