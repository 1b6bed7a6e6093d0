package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

var (
	// ErrTimedOut marks a job whose poll budget ran out.
	ErrTimedOut = errors.New("job timed out")
	// ErrRecreateLimit marks a job that failed more times than it may be recreated.
	ErrRecreateLimit = errors.New("recreate limit reached")
	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Artifact is a downloaded clip on local storage.
type Artifact struct {
	SegmentIndex int    `json:"segment_index"`
	Path         string `json:"path"`
	SizeBytes    int64  `json:"size_bytes"`
}

// Job tracks one segment's remote generation.
type Job struct {
	SegmentIndex  int
	OperationID   string
	State         State
	RecreateCount int
	SubmittedAt   time.Time
	Payload       json.RawMessage
	Artifact      *Artifact
	Err           error
}

// NewPending creates a job for an accepted submission.
func NewPending(index int, operationID string, payload json.RawMessage, submittedAt time.Time) *Job {
	return &Job{
		SegmentIndex: index,
		OperationID:  operationID,
		State:        StatePending,
		SubmittedAt:  submittedAt,
		Payload:      payload,
	}
}

// NewFailed creates a job for a segment whose submission never succeeded.
func NewFailed(index int, payload json.RawMessage, err error) *Job {
	return &Job{
		SegmentIndex: index,
		State:        StateFailed,
		Payload:      payload,
		Err:          err,
	}
}

// Complete records a downloaded artifact.
func (j *Job) Complete(artifact Artifact) error {
	if j.State != StatePending {
		return j.invalid(StateCompleted)
	}
	j.State = StateCompleted
	j.Artifact = &artifact
	j.Err = nil
	return nil
}

// Fail moves a pending job to failed.
func (j *Job) Fail(err error) error {
	if j.State != StatePending {
		return j.invalid(StateFailed)
	}
	j.State = StateFailed
	j.Err = err
	return nil
}

// TimeOut moves a pending job to timed_out.
func (j *Job) TimeOut() error {
	if j.State != StatePending {
		return j.invalid(StateTimedOut)
	}
	j.State = StateTimedOut
	j.Err = ErrTimedOut
	return nil
}

// CanRecreate reports whether another recreate is allowed under limit.
func (j *Job) CanRecreate(limit int) bool {
	return j.State == StatePending && j.RecreateCount < limit
}

// Recreate swaps in the operation id of a resubmission. It returns
// ErrRecreateLimit once RecreateCount has reached limit.
func (j *Job) Recreate(operationID string, limit int, submittedAt time.Time) error {
	if j.State != StatePending {
		return j.invalid(StatePending)
	}
	if j.RecreateCount >= limit {
		return fmt.Errorf("%w: segment %d recreated %d times", ErrRecreateLimit, j.SegmentIndex, j.RecreateCount)
	}
	j.OperationID = operationID
	j.RecreateCount++
	j.SubmittedAt = submittedAt
	return nil
}

// Adopt records a late completion discovered for a timed_out job.
func (j *Job) Adopt(artifact Artifact) error {
	if j.State != StateTimedOut {
		return j.invalid(StateCompleted)
	}
	j.State = StateCompleted
	j.Artifact = &artifact
	j.Err = nil
	return nil
}

// ErrorMessage returns the recorded error text or "".
func (j *Job) ErrorMessage() string {
	if j.Err == nil {
		return ""
	}
	return strings.TrimSpace(j.Err.Error())
}

func (j *Job) invalid(to State) error {
	return fmt.Errorf("%w: segment %d %s -> %s", ErrInvalidTransition, j.SegmentIndex, j.State, to)
}
