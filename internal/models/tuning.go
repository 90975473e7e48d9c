package models

// TuningSummary packages the worker/queue sizing computed at submission.
// It is attached to the job and surfaced through progress events so
// observers can see how a run was sized.
type TuningSummary struct {
	ThreadCount   int  `json:"thread_count"`   // Translation parallelism
	QueueSize     int  `json:"queue_size"`     // Bounded work queue size
	JobMaxWorkers int  `json:"job_max_workers"` // Manager-level job concurrency
	PipelineMode  bool `json:"pipeline_mode"`  // Concurrent translation/media
}
