// Package locator resolves per-job filesystem roots and external URLs.
package locator

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/verso/internal/common"
)

// Locator maps job IDs onto the artifact tree:
//
//	<root>/<job_id>/data/      source file
//	<root>/<job_id>/metadata/  sentence sidecars, mirrored cover
//	<root>/<job_id>/media/     rendered outputs
type Locator struct {
	root    string
	baseURL string
}

// New creates a locator over the configured storage root and base URL.
func New(root, baseURL string) *Locator {
	return &Locator{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Root returns the storage root holding all job directories.
func (l *Locator) Root() string {
	return l.root
}

// JobRoot returns the root directory of one job's artifact tree.
func (l *Locator) JobRoot(jobID string) string {
	return filepath.Join(l.root, common.SanitizeID(jobID))
}

// DataDir holds the mirrored source file.
func (l *Locator) DataDir(jobID string) string {
	return filepath.Join(l.JobRoot(jobID), "data")
}

// MetadataDir holds sentence-level sidecars and the mirrored cover image.
func (l *Locator) MetadataDir(jobID string) string {
	return filepath.Join(l.JobRoot(jobID), "metadata")
}

// MediaDir holds rendered outputs.
func (l *Locator) MediaDir(jobID string) string {
	return filepath.Join(l.JobRoot(jobID), "media")
}

// EnsureLayout creates the job's directory tree.
func (l *Locator) EnsureLayout(jobID string) error {
	for _, dir := range []string{l.DataDir(jobID), l.MetadataDir(jobID), l.MediaDir(jobID)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create job directory %s: %w", dir, err)
		}
	}
	return nil
}

// RelPath converts an absolute path inside the job root to a POSIX-style
// relative path. Paths escaping the job root are rejected.
func (l *Locator) RelPath(jobID, absPath string) (string, error) {
	root, err := filepath.Abs(l.JobRoot(jobID))
	if err != nil {
		return "", fmt.Errorf("failed to resolve job root: %w", err)
	}
	abs, err := filepath.Abs(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", absPath, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", absPath, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s escapes job root", absPath)
	}
	return rel, nil
}

// URL computes the externally resolvable URL for a job-relative path.
func (l *Locator) URL(jobID, relPath string) string {
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(relPath, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return fmt.Sprintf("%s/jobs/%s/files/%s", l.baseURL, url.PathEscape(jobID), strings.Join(escaped, "/"))
}

// RemoveJobTree deletes the whole artifact tree for a job.
func (l *Locator) RemoveJobTree(jobID string) error {
	return os.RemoveAll(l.JobRoot(jobID))
}
