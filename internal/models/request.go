// -----------------------------------------------------------------------
// Pipeline request - the executable submission and its serializable payload
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"sort"
)

// PipelineConfig carries the typed configuration of a submission. Dynamic
// knobs travel in the overrides maps, whose keys are enumerated at the API
// edge rather than tolerated silently.
type PipelineConfig struct {
	Provider      string   `json:"provider" validate:"omitempty,oneof=local remote"`
	Model         string   `json:"model,omitempty"`
	Voice         string   `json:"voice,omitempty"`
	OutputFormats []string `json:"output_formats,omitempty" validate:"dive,oneof=text audio video"`
}

// PipelineInputs locates and bounds the source material.
type PipelineInputs struct {
	InputFile              string `json:"input_file" validate:"required"`
	SourceLanguage         string `json:"source_language" validate:"required"`
	TargetLanguage         string `json:"target_language" validate:"required"`
	StartSentence          int    `json:"start_sentence" validate:"min=0"`
	EndSentence            int    `json:"end_sentence,omitempty" validate:"min=0"`
	SentencesPerOutputFile int    `json:"sentences_per_output_file" validate:"min=0"`
	BatchSize              int    `json:"batch_size,omitempty" validate:"min=0"`
}

// allowedOverrideKeys enumerates every recognized override. Unknown keys are
// rejected at the submission boundary.
var allowedOverrideKeys = map[string]bool{
	"thread_count":  true,
	"queue_size":    true,
	"pipeline_mode": true,
	"provider":      true,
	"model":         true,
	"voice":         true,
	"temperature":   true,
	"max_retries":   true,
}

// ValidateOverrideKeys rejects overrides outside the enumerated set.
func ValidateOverrideKeys(overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}
	var unknown []string
	for k := range overrides {
		if !allowedOverrideKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown override keys: %v", unknown)
	}
	return nil
}

// RequestPayload is the serializable snapshot of a submission. It is what
// gets persisted and what a resume rehydrates from.
type RequestPayload struct {
	JobType           JobType                `json:"job_type"`
	Config            PipelineConfig         `json:"config"`
	Inputs            PipelineInputs         `json:"inputs"`
	EnvOverrides      map[string]interface{} `json:"env_overrides,omitempty"`
	PipelineOverrides map[string]interface{} `json:"pipeline_overrides,omitempty"`
	// Metadata holds inferred document properties (title, author, cover).
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// Clone deep-copies the payload.
func (p *RequestPayload) Clone() *RequestPayload {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Config.OutputFormats = append([]string(nil), p.Config.OutputFormats...)
	clone.EnvOverrides = cloneMap(p.EnvOverrides)
	clone.PipelineOverrides = cloneMap(p.PipelineOverrides)
	clone.Metadata = cloneMap(p.Metadata)
	return &clone
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// OverrideInt reads an integer override, accepting the float64 form JSON
// produces.
func (p *RequestPayload) OverrideInt(key string) (int, bool) {
	for _, m := range []map[string]interface{}{p.PipelineOverrides, p.EnvOverrides} {
		if m == nil {
			continue
		}
		switch v := m[key].(type) {
		case int:
			return v, true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

// OverrideBool reads a boolean override.
func (p *RequestPayload) OverrideBool(key string) (bool, bool) {
	for _, m := range []map[string]interface{}{p.PipelineOverrides, p.EnvOverrides} {
		if m == nil {
			continue
		}
		if v, ok := m[key].(bool); ok {
			return v, true
		}
	}
	return false, false
}

// ResumeContext records where a paused job restarts: the original payload
// with inputs.start_sentence snapped to the block boundary containing the
// last completed sentence, plus diagnostics.
type ResumeContext struct {
	Payload      *RequestPayload `json:"payload"`
	BlockStart   int             `json:"resume_block_start"`
	LastSentence int             `json:"resume_last_sentence"`
	NextSentence int             `json:"resume_next_sentence"`
}

// Clone deep-copies the resume context.
func (rc *ResumeContext) Clone() *ResumeContext {
	if rc == nil {
		return nil
	}
	clone := *rc
	clone.Payload = rc.Payload.Clone()
	return &clone
}

// PipelineRequest is the live, executable form of a submission. Tracker and
// StopEvent are process-local; RuntimeContext carries the per-job filesystem
// layout and tuning context established at submission.
type PipelineRequest struct {
	Payload        *RequestPayload        `json:"payload"`
	RuntimeContext map[string]interface{} `json:"runtime_context,omitempty"`

	Tracker   *Tracker   `json:"-"`
	StopEvent *StopEvent `json:"-"`
}

// CorrelationID returns the correlation ID carried by the payload.
func (r *PipelineRequest) CorrelationID() string {
	if r == nil || r.Payload == nil {
		return ""
	}
	return r.Payload.CorrelationID
}

// ContextInt reads an integer from the runtime context.
func (r *PipelineRequest) ContextInt(key string) (int, bool) {
	if r == nil || r.RuntimeContext == nil {
		return 0, false
	}
	switch v := r.RuntimeContext[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// PipelineResponse is the terminal output of the pipeline callable.
type PipelineResponse struct {
	Success        bool                   `json:"success"`
	ResultPayload  map[string]interface{} `json:"result_payload,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	GeneratedFiles *GeneratedFiles        `json:"generated_files,omitempty"`
	MediaCompleted bool                   `json:"media_completed"`
}
