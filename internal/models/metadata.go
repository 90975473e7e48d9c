// -----------------------------------------------------------------------
// PipelineJobMetadata - the durable, serializable snapshot of a job
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PipelineJobMetadata is the serializable form of a Job. It carries no
// process-local state; tracker, stop event and live request are recreated
// by the request factory when a restored job runs again.
//
// Serialization is canonical: collections are kept sorted (see
// GeneratedFiles.Sort) and maps marshal with sorted keys, so re-persisting
// an unchanged job produces byte-identical output.
type PipelineJobMetadata struct {
	JobID     string     `json:"job_id"`
	JobType   JobType    `json:"job_type"`
	Status    JobStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RequestPayload *RequestPayload        `json:"request_payload,omitempty"`
	ResumeContext  *ResumeContext         `json:"resume_context,omitempty"`
	LastEvent      *ProgressEvent         `json:"last_event,omitempty"`
	ResultPayload  map[string]interface{} `json:"result_payload,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	GeneratedFiles *GeneratedFiles        `json:"generated_files,omitempty"`
	MediaCompleted bool                   `json:"media_completed"`
	TuningSummary  *TuningSummary         `json:"tuning_summary,omitempty"`
	Retries        int                    `json:"retries,omitempty"`

	// SentenceFiles lists the per-chunk sentence sidecars written under
	// <job_root>/metadata/, as POSIX relative paths, sorted.
	SentenceFiles []string `json:"sentence_files,omitempty"`

	UserID        string `json:"user_id"`
	UserRole      string `json:"user_role"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// CanonicalJSON serializes the metadata as the canonical document written
// to every store backend.
func (m *PipelineJobMetadata) CanonicalJSON() ([]byte, error) {
	m.GeneratedFiles.Sort()
	if m.LastEvent != nil {
		m.LastEvent.Snapshot.GeneratedFiles.Sort()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job metadata: %w", err)
	}
	return data, nil
}

// MetadataFromJSON deserializes a canonical metadata document.
func MetadataFromJSON(data []byte) (*PipelineJobMetadata, error) {
	var m PipelineJobMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job metadata: %w", err)
	}
	return &m, nil
}

// Validate checks the structural invariants every persisted snapshot must
// satisfy.
func (m *PipelineJobMetadata) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if m.Status == "" {
		return fmt.Errorf("job status is required")
	}
	if m.Status == JobStatusPaused && m.ResumeContext == nil {
		return fmt.Errorf("paused job %s has no resume context", m.JobID)
	}
	if m.Status.IsTerminal() && m.CompletedAt == nil {
		return fmt.Errorf("terminal job %s has no completed_at", m.JobID)
	}
	return nil
}
