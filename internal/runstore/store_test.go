package runstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"clipweave/internal/job"
	"clipweave/internal/runstore"
	"clipweave/internal/testsupport"
)

func TestCreateAndFinishRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	ctx := context.Background()

	run := runstore.Run{
		ID:            "4f2b9c1e-0000-4000-8000-000000000001",
		TotalDuration: 25 * time.Second,
		SegmentLength: 8 * time.Second,
		SegmentCount:  4,
		Concurrency:   5,
		OutputPath:    "/tmp/out.mp4",
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	fetched, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if fetched.Status != runstore.StatusRunning || fetched.SegmentCount != 4 || fetched.TotalDuration != 25*time.Second {
		t.Fatalf("unexpected run %+v", fetched)
	}

	outcome := runstore.Outcome{
		Status:       runstore.StatusPartial,
		OutputPath:   "/tmp/out.mp4",
		PublishedURL: "https://cdn.example.com/out.mp4",
		Incomplete:   true,
		ManifestJSON: []byte(`{"run_id":"x"}`),
	}
	if err := store.FinishRun(ctx, run.ID, outcome); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	fetched, err = store.GetRun(ctx, "4f2b9c1e")
	if err != nil {
		t.Fatalf("GetRun by prefix: %v", err)
	}
	if fetched.Status != runstore.StatusPartial || !fetched.Incomplete || fetched.CompletedAt == nil {
		t.Fatalf("unexpected finished run %+v", fetched)
	}
	if fetched.PublishedURL != outcome.PublishedURL || fetched.ManifestJSON != `{"run_id":"x"}` {
		t.Fatalf("unexpected outcome fields %+v", fetched)
	}
}

func TestGetRunErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"abc-1", "abc-2"} {
		if err := store.CreateRun(ctx, runstore.Run{ID: id, SegmentCount: 1, Concurrency: 1}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	if _, err := store.GetRun(ctx, "zzz"); !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetRun(ctx, "abc"); !errors.Is(err, runstore.ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	if err := store.FinishRun(ctx, "missing", runstore.Outcome{Status: runstore.StatusFailed}); !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from FinishRun, got %v", err)
	}
}

func TestRecordSegmentUpserts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	ctx := context.Background()
	if err := store.CreateRun(ctx, runstore.Run{ID: "run", SegmentCount: 2, Concurrency: 2}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	j := job.NewPending(1, "op-1", nil, time.Now())
	if err := store.RecordSegment(ctx, "run", *j); err != nil {
		t.Fatalf("RecordSegment pending: %v", err)
	}
	if err := j.Recreate("op-2", 2, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := j.Complete(job.Artifact{SegmentIndex: 1, Path: "/tmp/segment_0001.mp4", SizeBytes: 2048}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSegment(ctx, "run", *j); err != nil {
		t.Fatalf("RecordSegment completed: %v", err)
	}
	failed := job.NewFailed(0, nil, errors.New("submission attempts exhausted"))
	if err := store.RecordSegment(ctx, "run", *failed); err != nil {
		t.Fatalf("RecordSegment failed: %v", err)
	}

	segments, err := store.Segments(ctx, "run")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segment rows, got %d", len(segments))
	}
	if segments[0].SegmentIndex != 0 || segments[0].State != job.StateFailed || segments[0].ErrorMessage == "" || segments[0].SubmittedAt != nil {
		t.Fatalf("unexpected failed row %+v", segments[0])
	}
	got := segments[1]
	if got.State != job.StateCompleted || got.OperationID != "op-2" || got.RecreateCount != 1 || got.SizeBytes != 2048 {
		t.Fatalf("unexpected completed row %+v", got)
	}
}

func TestMarkInterruptedAndListRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		run := runstore.Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour), SegmentCount: 1, Concurrency: 1}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	if err := store.FinishRun(ctx, "old", runstore.Outcome{Status: runstore.StatusCompleted}); err != nil {
		t.Fatal(err)
	}

	active, err := store.ActiveRunIDs(ctx)
	if err != nil || len(active) != 2 {
		t.Fatalf("expected 2 active runs, got %v (%v)", active, err)
	}
	n, err := store.MarkInterrupted(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 interrupted runs, got %d (%v)", n, err)
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Fatalf("expected newest first, got %v", runs)
	}
	if runs[0].Status != runstore.StatusInterrupted || runs[0].ErrorMessage == "" {
		t.Fatalf("unexpected interrupted run %+v", runs[0])
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[runstore.StatusInterrupted] != 2 || stats[runstore.StatusCompleted] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	if _, err := store.DB().Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	if _, err := runstore.Open(cfg.RunDBPath()); !errors.Is(err, runstore.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
