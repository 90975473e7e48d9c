package manager

import "github.com/ternarybob/verso/internal/models"

// ComputeBlockStart snaps the resume point to the block boundary containing
// the last completed sentence. Output files are emitted per block, so
// resuming mid-block would leave a partial artifact; snapping re-runs the
// incomplete block at the cost of up to blockSize-1 sentences.
func ComputeBlockStart(baseStart, blockSize, lastSentence int) int {
	if blockSize < 1 {
		blockSize = 1
	}
	blockStart := baseStart + ((lastSentence-baseStart)/blockSize)*blockSize

	floor := baseStart
	if floor < 1 {
		floor = 1
	}
	if blockStart < floor {
		blockStart = floor
	}
	if blockStart > lastSentence {
		blockStart = lastSentence
	}
	if blockStart < 1 {
		blockStart = 1
	}
	return blockStart
}

// BuildResumeContext derives the resume checkpoint from the job's last
// observed progress event. Returns nil when nothing has been observed yet,
// in which case a resume re-runs from the original start.
func BuildResumeContext(job *models.Job) *models.ResumeContext {
	if job.RequestPayload == nil {
		return nil
	}
	baseStart := job.RequestPayload.Inputs.StartSentence
	if baseStart < 1 {
		baseStart = 1
	}
	blockSize := job.RequestPayload.Inputs.SentencesPerOutputFile

	lastSentence, ok := job.LastEvent.SentenceNumber()
	if !ok {
		if job.LastEvent == nil || job.LastEvent.Snapshot.Completed == 0 {
			return nil
		}
		lastSentence = baseStart + job.LastEvent.Snapshot.Completed - 1
	}
	if lastSentence < baseStart {
		return nil
	}

	blockStart := ComputeBlockStart(baseStart, blockSize, lastSentence)

	payload := job.RequestPayload.Clone()
	payload.Inputs.StartSentence = blockStart

	return &models.ResumeContext{
		Payload:      payload,
		BlockStart:   blockStart,
		LastSentence: lastSentence,
		NextSentence: lastSentence + 1,
	}
}

// EnsureResumeContext guarantees the job carries a checkpoint before it
// lands on PAUSED. A job paused before its first progress event gets a
// fallback context pointing at the original start, so the persisted record
// always satisfies the paused-implies-resumable rule.
func EnsureResumeContext(job *models.Job) {
	if rc := BuildResumeContext(job); rc != nil {
		job.ResumeContext = rc
		return
	}
	if job.ResumeContext != nil || job.RequestPayload == nil {
		return
	}
	job.ResumeContext = &models.ResumeContext{
		Payload:    job.RequestPayload.Clone(),
		BlockStart: job.RequestPayload.Inputs.StartSentence,
	}
}
