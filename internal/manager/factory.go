package manager

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/locator"
	"github.com/ternarybob/verso/internal/models"
)

// Defaults applied when a persisted payload is missing or malformed.
// Resume never aborts on a bad field; it falls back here instead.
const (
	defaultStartSentence = 1
	defaultBlockSize     = 10
)

// RequestFactory rebuilds executable pipeline requests from persisted
// payloads, re-attaching the tracker and cancellation primitives a snapshot
// cannot carry.
type RequestFactory struct {
	locator *locator.Locator
	logger  arbor.ILogger
}

// NewRequestFactory creates a factory over the given locator.
func NewRequestFactory(loc *locator.Locator, logger arbor.ILogger) *RequestFactory {
	return &RequestFactory{locator: loc, logger: logger}
}

// Build produces a live PipelineRequest for the job and attaches it. The
// resume-context payload wins over the original submission payload so a
// resumed run starts at the block-aligned checkpoint. A fresh stop event is
// always created; the job's existing tracker is reused when still attached.
func (f *RequestFactory) Build(job *models.Job, observer models.ProgressObserver) *models.PipelineRequest {
	payload := f.resolvePayload(job)

	tracker := job.Tracker
	if tracker == nil {
		tracker = models.NewTracker(job.ID)
	}
	if observer != nil {
		tracker.AddObserver(observer)
	}

	request := &models.PipelineRequest{
		Payload:        payload,
		RuntimeContext: f.runtimeContext(job),
		Tracker:        tracker,
		StopEvent:      models.NewStopEvent(),
	}

	job.Request = request
	job.Tracker = tracker
	job.StopEvent = request.StopEvent
	return request
}

// resolvePayload picks the effective payload and coerces malformed fields to
// defaults rather than aborting a resume.
func (f *RequestFactory) resolvePayload(job *models.Job) *models.RequestPayload {
	var payload *models.RequestPayload
	if job.ResumeContext != nil && job.ResumeContext.Payload != nil {
		payload = job.ResumeContext.Payload.Clone()
	} else if job.RequestPayload != nil {
		payload = job.RequestPayload.Clone()
	} else {
		f.logger.Warn().Str("job_id", job.ID).Msg("Job has no request payload, using empty defaults")
		payload = &models.RequestPayload{JobType: job.Type}
	}

	if payload.JobType == "" {
		payload.JobType = job.Type
	}
	if payload.Inputs.StartSentence < 1 {
		payload.Inputs.StartSentence = defaultStartSentence
	}
	if payload.Inputs.SentencesPerOutputFile < 1 {
		payload.Inputs.SentencesPerOutputFile = defaultBlockSize
	}
	if payload.CorrelationID == "" {
		payload.CorrelationID = job.CorrelationID
	}
	return payload
}

// runtimeContext carries the per-job filesystem layout into the pipeline.
func (f *RequestFactory) runtimeContext(job *models.Job) map[string]interface{} {
	ctx := map[string]interface{}{
		"job_id":       job.ID,
		"job_root":     f.locator.JobRoot(job.ID),
		"data_dir":     f.locator.DataDir(job.ID),
		"metadata_dir": f.locator.MetadataDir(job.ID),
		"media_dir":    f.locator.MediaDir(job.ID),
	}
	if job.TuningSummary != nil {
		ctx["thread_count"] = job.TuningSummary.ThreadCount
		ctx["queue_size"] = job.TuningSummary.QueueSize
	}
	return ctx
}
