package job_test

import (
	"errors"
	"testing"
	"time"

	"clipweave/internal/job"
)

func TestPendingToCompleted(t *testing.T) {
	j := job.NewPending(2, "op-1", []byte(`{"prompt":"x"}`), time.Unix(100, 0))
	if err := j.Complete(job.Artifact{SegmentIndex: 2, Path: "/tmp/a.mp4", SizeBytes: 10}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if j.State != job.StateCompleted || j.Artifact == nil || j.Artifact.SizeBytes != 10 {
		t.Fatalf("unexpected job after completion: %+v", j)
	}
	if err := j.Fail(errors.New("late")); !errors.Is(err, job.ErrInvalidTransition) {
		t.Fatalf("expected terminal state to be final, got %v", err)
	}
}

func TestRecreateIsBounded(t *testing.T) {
	j := job.NewPending(0, "op-1", nil, time.Unix(0, 0))
	for i, id := range []string{"op-2", "op-3"} {
		if !j.CanRecreate(2) {
			t.Fatalf("expected recreate %d to be allowed", i+1)
		}
		if err := j.Recreate(id, 2, time.Unix(int64(i+1), 0)); err != nil {
			t.Fatalf("Recreate %d: %v", i+1, err)
		}
	}
	if j.OperationID != "op-3" || j.RecreateCount != 2 {
		t.Fatalf("unexpected job after recreates: %+v", j)
	}
	if j.CanRecreate(2) {
		t.Fatal("expected recreate limit to be reached")
	}
	if err := j.Recreate("op-4", 2, time.Now()); !errors.Is(err, job.ErrRecreateLimit) {
		t.Fatalf("expected ErrRecreateLimit, got %v", err)
	}
	if j.OperationID != "op-3" {
		t.Fatalf("operation id must not change on refused recreate, got %q", j.OperationID)
	}
}

func TestTimeOutAndAdopt(t *testing.T) {
	j := job.NewPending(5, "op", nil, time.Now())
	if err := j.TimeOut(); err != nil {
		t.Fatalf("TimeOut: %v", err)
	}
	if !errors.Is(j.Err, job.ErrTimedOut) || !j.State.Terminal() {
		t.Fatalf("unexpected timed out job: %+v", j)
	}
	if err := j.Complete(job.Artifact{}); !errors.Is(err, job.ErrInvalidTransition) {
		t.Fatalf("Complete on timed_out should fail, got %v", err)
	}
	if err := j.Adopt(job.Artifact{SegmentIndex: 5, Path: "p"}); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if j.State != job.StateCompleted || j.Err != nil {
		t.Fatalf("unexpected adopted job: %+v", j)
	}
}

func TestNewFailedCarriesError(t *testing.T) {
	cause := errors.New("submission exhausted")
	j := job.NewFailed(7, nil, cause)
	if j.State != job.StateFailed || j.OperationID != "" {
		t.Fatalf("unexpected failed job: %+v", j)
	}
	if j.ErrorMessage() != "submission exhausted" {
		t.Fatalf("unexpected error message %q", j.ErrorMessage())
	}
	if err := j.Adopt(job.Artifact{}); !errors.Is(err, job.ErrInvalidTransition) {
		t.Fatalf("failed jobs cannot be adopted, got %v", err)
	}
}
