package runstore

import (
	"time"

	"clipweave/internal/job"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusPartial     Status = "partial"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Run is one row of the runs table.
type Run struct {
	ID            string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	TotalDuration time.Duration
	SegmentLength time.Duration
	SegmentCount  int
	Concurrency   int
	OutputPath    string
	PublishedURL  string
	Incomplete    bool
	ErrorMessage  string
	ManifestJSON  string
}

// Segment is one row of the segments table.
type Segment struct {
	RunID         string
	SegmentIndex  int
	State         job.State
	OperationID   string
	RecreateCount int
	SubmittedAt   *time.Time
	ArtifactPath  string
	SizeBytes     int64
	ErrorMessage  string
	UpdatedAt     time.Time
}

// Outcome is what FinishRun records.
type Outcome struct {
	Status       Status
	OutputPath   string
	PublishedURL string
	Incomplete   bool
	ErrorMessage string
	ManifestJSON []byte
}
