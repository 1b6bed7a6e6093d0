package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clipweave/internal/fileutil"
	"clipweave/internal/job"
	"clipweave/internal/segment"
)

// Manifest is the machine-readable record of a run. Durations are seconds.
type Manifest struct {
	RunID         string            `json:"run_id"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   time.Time         `json:"completed_at"`
	TotalDuration float64           `json:"total_duration"`
	SegmentLength float64           `json:"segment_length"`
	OutputPath    string            `json:"output_path,omitempty"`
	PublishedURL  string            `json:"published_url,omitempty"`
	Incomplete    bool              `json:"incomplete"`
	Missing       []int             `json:"missing"`
	Error         string            `json:"error,omitempty"`
	Segments      []ManifestSegment `json:"segments"`
}

// ManifestSegment describes one planned segment and how its job ended.
type ManifestSegment struct {
	SegmentIndex  int       `json:"segment_index"`
	Start         float64   `json:"start"`
	End           float64   `json:"end"`
	Status        job.State `json:"status"`
	OperationID   string    `json:"operation_id,omitempty"`
	RecreateCount int       `json:"recreate_count"`
	ArtifactPath  string    `json:"artifact_path,omitempty"`
	SizeBytes     int64     `json:"size_bytes,omitempty"`
	Excluded      bool      `json:"excluded,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Completed counts segments whose job completed and whose clip made it into
// the output.
func (m Manifest) Completed() int {
	n := 0
	for _, s := range m.Segments {
		if s.Status == job.StateCompleted && !s.Excluded {
			n++
		}
	}
	return n
}

func buildSegments(segments []segment.Segment, jobs []*job.Job) []ManifestSegment {
	byIndex := make(map[int]*job.Job, len(jobs))
	for _, j := range jobs {
		if j != nil {
			byIndex[j.SegmentIndex] = j
		}
	}
	out := make([]ManifestSegment, 0, len(segments))
	for _, seg := range segments {
		entry := ManifestSegment{
			SegmentIndex: seg.Index,
			Start:        seg.Start.Seconds(),
			End:          seg.End.Seconds(),
			Status:       job.StateFailed,
		}
		if j, ok := byIndex[seg.Index]; ok {
			entry.Status = j.State
			entry.OperationID = j.OperationID
			entry.RecreateCount = j.RecreateCount
			entry.Error = j.ErrorMessage()
			if j.Artifact != nil {
				entry.ArtifactPath = j.Artifact.Path
				entry.SizeBytes = j.Artifact.SizeBytes
			}
		} else {
			entry.Error = "segment was never dispatched"
		}
		out = append(out, entry)
	}
	return out
}

// markExcluded flags completed segments that assembly reported missing.
func markExcluded(segments []ManifestSegment, missing []int) {
	gone := make(map[int]struct{}, len(missing))
	for _, idx := range missing {
		gone[idx] = struct{}{}
	}
	for i := range segments {
		if segments[i].Status != job.StateCompleted {
			continue
		}
		if _, ok := gone[segments[i].SegmentIndex]; !ok {
			continue
		}
		segments[i].Excluded = true
		if segments[i].Error == "" {
			segments[i].Error = "clip unusable at assembly; excluded from output"
		}
	}
}

func writeManifest(path string, manifest Manifest) ([]byte, error) {
	if manifest.Missing == nil {
		manifest.Missing = []int{}
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return data, fmt.Errorf("create manifest directory: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return data, fmt.Errorf("write manifest: %w", err)
	}
	return data, nil
}
