package interfaces

import (
	"context"

	"github.com/ternarybob/verso/internal/models"
)

// Pipeline is the opaque long-running callable that performs the actual
// translation/rendering work. It may run for minutes to hours, emits
// progress events through the request's tracker, and must poll the
// request's stop event at sentence boundaries.
type Pipeline func(ctx context.Context, req *models.PipelineRequest) (*models.PipelineResponse, error)

// MetadataInferrer re-derives document metadata (title, author, language,
// cover) from an input file. Existing metadata is passed in so unchanged
// fields survive; forceRefresh discards cached inference.
type MetadataInferrer func(ctx context.Context, inputFile string, existing map[string]interface{}, forceRefresh bool) (map[string]interface{}, error)

// LifecycleHooks receives executor callbacks around a job's run. All hooks
// are optional best-effort observers; hook panics or errors never alter the
// job's outcome.
type LifecycleHooks interface {
	OnStart(job *models.Job)
	OnFinish(job *models.Job)
	OnFailure(job *models.Job, err error)
	OnInterrupted(job *models.Job)
}
