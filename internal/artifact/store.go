package artifact

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"clipweave/internal/job"
)

// DefaultExtension is used when an artifact URL carries no recognizable extension.
const DefaultExtension = ".mp4"

// ErrEmptyArtifact is returned when a download produced no bytes.
var ErrEmptyArtifact = errors.New("artifact is empty")

// Store lays out artifacts for one run.
type Store struct {
	workDir string
	runID   string
}

// New returns the store for runID under workDir.
func New(workDir, runID string) *Store {
	return &Store{workDir: workDir, runID: runID}
}

// RunDir is <work_dir>/<run_id>.
func (s *Store) RunDir() string {
	return filepath.Join(s.workDir, s.runID)
}

// SegmentsDir holds the downloaded clips.
func (s *Store) SegmentsDir() string {
	return filepath.Join(s.RunDir(), "segments")
}

// ManifestPath is where the run manifest is written.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.RunDir(), "manifest.json")
}

// PathFor returns the clip path for a segment index.
func (s *Store) PathFor(index int, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return filepath.Join(s.SegmentsDir(), fmt.Sprintf("segment_%04d%s", index, ext))
}

// Write streams a clip for index into place. fill receives the destination
// writer and reports the byte count. The file appears under its final name
// only after fill succeeded, so a crashed download never leaves a truncated
// clip that assembly would pick up.
func (s *Store) Write(index int, ext string, fill func(io.Writer) (int64, error)) (job.Artifact, error) {
	if err := os.MkdirAll(s.SegmentsDir(), 0o755); err != nil {
		return job.Artifact{}, fmt.Errorf("create segments dir: %w", err)
	}
	target := s.PathFor(index, ext)
	tmp, err := os.CreateTemp(s.SegmentsDir(), filepath.Base(target)+".part-*")
	if err != nil {
		return job.Artifact{}, fmt.Errorf("create partial artifact: %w", err)
	}
	tmpName := tmp.Name()

	written, err := fill(tmp)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written <= 0 {
		err = ErrEmptyArtifact
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return job.Artifact{}, fmt.Errorf("write segment %d: %w", index, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return job.Artifact{}, fmt.Errorf("finalize segment %d: %w", index, err)
	}
	return job.Artifact{SegmentIndex: index, Path: target, SizeBytes: written}, nil
}

// RemoveSegments deletes the downloaded clips, keeping the manifest.
func (s *Store) RemoveSegments() error {
	return os.RemoveAll(s.SegmentsDir())
}

// Exists reports whether an artifact file is present and non-empty.
func Exists(a *job.Artifact) bool {
	if a == nil || strings.TrimSpace(a.Path) == "" {
		return false
	}
	info, err := os.Stat(a.Path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// ExtensionFromURL picks a container extension from an artifact URL,
// defaulting to DefaultExtension.
func ExtensionFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return DefaultExtension
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	switch ext {
	case ".mp4", ".mov", ".webm", ".mkv", ".m4v":
		return ext
	default:
		return DefaultExtension
	}
}
