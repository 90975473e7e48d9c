// -----------------------------------------------------------------------
// Progress events - how pipelines report progress to the tracker
// -----------------------------------------------------------------------

package models

import "sort"

// ProgressSnapshot is the quantitative portion of a progress event.
type ProgressSnapshot struct {
	Completed      int             `json:"completed"`
	Total          int             `json:"total"`
	Elapsed        float64         `json:"elapsed"`
	Speed          float64         `json:"speed"`
	ETA            float64         `json:"eta"`
	GeneratedFiles *GeneratedFiles `json:"generated_files,omitempty"`
}

// ProgressEvent is delivered by the pipeline to the job's tracker on every
// reportable step. Metadata conventionally carries "stage" and
// "sentence_number", plus a generated_files submanifest when artifacts were
// produced.
type ProgressEvent struct {
	EventType string                 `json:"event_type"`
	Timestamp float64                `json:"timestamp"` // Wall-clock seconds
	Snapshot  ProgressSnapshot       `json:"snapshot"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// SentenceNumber extracts the conventional sentence_number metadata field.
// JSON round-trips turn numbers into float64, so both are accepted.
func (e *ProgressEvent) SentenceNumber() (int, bool) {
	if e == nil || e.Metadata == nil {
		return 0, false
	}
	switch v := e.Metadata["sentence_number"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Stage extracts the conventional stage metadata field.
func (e *ProgressEvent) Stage() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata["stage"].(string); ok {
		return s
	}
	return ""
}

// Clone returns a deep copy of the event so observers can retain it without
// racing the pipeline's reuse of metadata maps.
func (e *ProgressEvent) Clone() *ProgressEvent {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	clone.Snapshot.GeneratedFiles = e.Snapshot.GeneratedFiles.Clone()
	return &clone
}

// FileEntry describes one produced artifact, normalized by persistence so
// each entry carries the absolute path, the POSIX relative path from the job
// root, and a resolvable URL.
type FileEntry struct {
	Type    string `json:"type"` // "text", "audio", "video", "cover"
	RelPath string `json:"rel_path"`
	AbsPath string `json:"abs_path,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ChunkArtifacts groups the files emitted for one output block.
type ChunkArtifacts struct {
	Chunk int         `json:"chunk"`
	Files []FileEntry `json:"files"`
}

// GeneratedFiles is the structured manifest of artifacts produced during a
// run, grouped by chunk.
type GeneratedFiles struct {
	Chunks []ChunkArtifacts `json:"chunks"`
}

// Clone deep-copies the manifest.
func (g *GeneratedFiles) Clone() *GeneratedFiles {
	if g == nil {
		return nil
	}
	clone := &GeneratedFiles{Chunks: make([]ChunkArtifacts, len(g.Chunks))}
	for i, c := range g.Chunks {
		files := make([]FileEntry, len(c.Files))
		copy(files, c.Files)
		clone.Chunks[i] = ChunkArtifacts{Chunk: c.Chunk, Files: files}
	}
	return clone
}

// Merge folds another manifest into this one, replacing chunks that reappear
// (a re-emitted block supersedes its earlier partial emission).
func (g *GeneratedFiles) Merge(other *GeneratedFiles) {
	if other == nil {
		return
	}
	byChunk := make(map[int]int, len(g.Chunks))
	for i, c := range g.Chunks {
		byChunk[c.Chunk] = i
	}
	for _, c := range other.Chunks {
		files := make([]FileEntry, len(c.Files))
		copy(files, c.Files)
		if i, ok := byChunk[c.Chunk]; ok {
			g.Chunks[i].Files = files
		} else {
			byChunk[c.Chunk] = len(g.Chunks)
			g.Chunks = append(g.Chunks, ChunkArtifacts{Chunk: c.Chunk, Files: files})
		}
	}
	g.Sort()
}

// Sort orders chunks by ordinal and files by relative path so that
// serializing an unchanged manifest is byte-identical.
func (g *GeneratedFiles) Sort() {
	if g == nil {
		return
	}
	sort.Slice(g.Chunks, func(i, j int) bool { return g.Chunks[i].Chunk < g.Chunks[j].Chunk })
	for i := range g.Chunks {
		files := g.Chunks[i].Files
		sort.Slice(files, func(a, b int) bool {
			if files[a].RelPath != files[b].RelPath {
				return files[a].RelPath < files[b].RelPath
			}
			return files[a].Type < files[b].Type
		})
	}
}

// FileCount returns the total number of file entries in the manifest.
func (g *GeneratedFiles) FileCount() int {
	if g == nil {
		return 0
	}
	n := 0
	for _, c := range g.Chunks {
		n += len(c.Files)
	}
	return n
}
