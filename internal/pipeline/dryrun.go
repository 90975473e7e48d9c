// Package pipeline carries the built-in dry-run pipeline: it renders the
// source text into the chunked output layout without calling a translation
// backend. The service binary wires it by default so the orchestrator can
// be exercised end to end; deployments register their own callable.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/models"
)

// DryRun reads the mirrored source file, splits it into sentences, and
// writes them back out in translated-chunk layout. Progress is published
// per sentence and the stop event is polled at sentence boundaries.
type DryRun struct {
	logger arbor.ILogger

	// StepDelay paces the per-sentence loop. Zero renders as fast as the
	// disk allows; tests raise it to open a pause window.
	StepDelay time.Duration
}

// NewDryRun creates the dry-run pipeline.
func NewDryRun(logger arbor.ILogger) *DryRun {
	return &DryRun{logger: logger}
}

// Run implements interfaces.Pipeline.
func (p *DryRun) Run(ctx context.Context, req *models.PipelineRequest) (*models.PipelineResponse, error) {
	if req == nil || req.Payload == nil {
		return nil, fmt.Errorf("dry-run pipeline requires a request payload")
	}
	inputs := req.Payload.Inputs

	sentences, err := p.loadSentences(req)
	if err != nil {
		return nil, err
	}
	if len(sentences) == 0 {
		return nil, fmt.Errorf("source %s contains no sentences", inputs.InputFile)
	}

	start := inputs.StartSentence
	if start < 1 {
		start = 1
	}
	end := inputs.EndSentence
	if end < 1 || end > len(sentences) {
		end = len(sentences)
	}
	if start > end {
		return nil, fmt.Errorf("start sentence %d is beyond the source (%d sentences)", start, end)
	}
	block := inputs.SentencesPerOutputFile
	if block < 1 {
		block = 10
	}

	mediaDir := contextString(req, "media_dir")
	jobRoot := contextString(req, "job_root")
	began := time.Now()
	manifest := &models.GeneratedFiles{}
	chunk := make([]string, 0, block)

	for n := start; n <= end; n++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if req.StopEvent != nil && req.StopEvent.IsSignaled() {
			// Partial chunks are dropped; the resume re-renders the whole
			// block from its aligned start.
			return nil, fmt.Errorf("rendering stopped at sentence %d", n)
		}
		if p.StepDelay > 0 {
			time.Sleep(p.StepDelay)
		}

		chunk = append(chunk, sentences[n-1])
		p.publish(req, progressEvent(began, start, end, n, nil, nil))

		if (n-start+1)%block == 0 || n == end {
			ordinal := (n-start)/block + 1
			entry, err := p.writeChunk(mediaDir, jobRoot, ordinal, chunk)
			if err != nil {
				return nil, err
			}
			files := &models.GeneratedFiles{Chunks: []models.ChunkArtifacts{{Chunk: ordinal, Files: []models.FileEntry{entry}}}}
			manifest.Merge(files)
			p.publish(req, progressEvent(began, start, end, n, files, map[string]interface{}{
				"chunk":     ordinal,
				"sentences": toAnySlice(chunk),
			}))
			chunk = chunk[:0]
		}
	}

	final := progressEvent(began, start, end, end, nil, map[string]interface{}{"media_completed": true})
	p.publish(req, final)

	return &models.PipelineResponse{
		Success: true,
		ResultPayload: map[string]interface{}{
			"sentences_rendered": end - start + 1,
			"chunks":             len(manifest.Chunks),
		},
		GeneratedFiles: manifest,
		MediaCompleted: true,
	}, nil
}

// loadSentences reads the mirrored source, falling back to the submitted
// path for jobs whose mirror never landed.
func (p *DryRun) loadSentences(req *models.PipelineRequest) ([]string, error) {
	input := req.Payload.Inputs.InputFile
	candidates := []string{input}
	if dataDir := contextString(req, "data_dir"); dataDir != "" {
		candidates = []string{filepath.Join(dataDir, filepath.Base(input)), input}
	}

	var lastErr error
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		return splitSentences(string(data)), nil
	}
	return nil, fmt.Errorf("cannot read source %s: %w", input, lastErr)
}

func (p *DryRun) writeChunk(mediaDir, jobRoot string, ordinal int, sentences []string) (models.FileEntry, error) {
	name := fmt.Sprintf("chunk_%04d.txt", ordinal)
	path := filepath.Join(mediaDir, name)
	content := strings.Join(sentences, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return models.FileEntry{}, fmt.Errorf("failed to write chunk %d: %w", ordinal, err)
	}

	entry := models.FileEntry{Type: "text", AbsPath: path, RelPath: "media/" + name}
	if jobRoot != "" {
		if rel, err := filepath.Rel(jobRoot, path); err == nil {
			entry.RelPath = filepath.ToSlash(rel)
		}
	}
	return entry, nil
}

func (p *DryRun) publish(req *models.PipelineRequest, event *models.ProgressEvent) {
	if req.Tracker != nil {
		req.Tracker.Publish(event)
	}
}

func progressEvent(began time.Time, start, end, n int, files *models.GeneratedFiles, extra map[string]interface{}) *models.ProgressEvent {
	completed := n - start + 1
	total := end - start + 1
	elapsed := time.Since(began).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(completed) / elapsed
	}
	eta := 0.0
	if speed > 0 {
		eta = float64(total-completed) / speed
	}

	metadata := map[string]interface{}{
		"stage":           "render",
		"sentence_number": n,
	}
	for k, v := range extra {
		metadata[k] = v
	}
	return &models.ProgressEvent{
		EventType: "progress",
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Snapshot: models.ProgressSnapshot{
			Completed:      completed,
			Total:          total,
			Elapsed:        elapsed,
			Speed:          speed,
			ETA:            eta,
			GeneratedFiles: files,
		},
		Metadata: metadata,
	}
}

// splitSentences breaks the source on terminal punctuation. Abbreviation
// handling is out of scope for the dry-run renderer.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			flush()
		}
	}
	flush()
	return sentences
}

func contextString(req *models.PipelineRequest, key string) string {
	if req.RuntimeContext == nil {
		return ""
	}
	if s, ok := req.RuntimeContext[key].(string); ok {
		return s
	}
	return ""
}

func toAnySlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
