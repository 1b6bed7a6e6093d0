package monitor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"clipweave/internal/artifact"
	"clipweave/internal/credential"
	"clipweave/internal/dispatch"
	"clipweave/internal/job"
	"clipweave/internal/monitor"
	"clipweave/internal/provider"
	"clipweave/internal/testsupport"
)

type recorder struct {
	mu        sync.Mutex
	recreated []string
	finished  map[int]job.State
}

func newRecorder() *recorder {
	return &recorder{finished: map[int]job.State{}}
}

func (r *recorder) JobRecreated(_ context.Context, snapshot job.Job, previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recreated = append(r.recreated, previous+"->"+snapshot.OperationID)
}

func (r *recorder) JobFinished(_ context.Context, snapshot job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[snapshot.SegmentIndex] = snapshot.State
}

type harness struct {
	fake     *testsupport.FakeProvider
	creds    *testsupport.FakeCredentials
	store    *artifact.Store
	monitor  *monitor.Monitor
	recorder *recorder
}

func newHarness(t *testing.T, settings monitor.Settings) *harness {
	t.Helper()
	fake := testsupport.NewFakeProvider()
	creds := testsupport.NewFakeCredentials("tok")
	store := artifact.New(t.TempDir(), "run-1")
	disp := dispatch.New(fake, creds, dispatch.Policy{MaxAttempts: 2}, dispatch.WithSleeper(testsupport.NoSleep))
	rec := newRecorder()
	m := monitor.New(fake, creds, disp, store, settings,
		monitor.WithSleeper(testsupport.NoSleep),
		monitor.WithObserver(rec),
	)
	return &harness{fake: fake, creds: creds, store: store, monitor: m, recorder: rec}
}

func defaultSettings() monitor.Settings {
	return monitor.Settings{
		InitialDelay: 30 * time.Second,
		PollInterval: 5 * time.Second,
		MaxPolls:     6,
		MaxRecreate:  2,
		Reconcile:    true,
	}
}

// submit issues the first operation for a segment through the fake.
func (h *harness) submit(t *testing.T, index int) *job.Job {
	t.Helper()
	payload := json.RawMessage(fmt.Sprintf(`{"prompt":"segment %d"}`, index))
	opID, err := h.fake.Submit(context.Background(), payload, "tok")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job.NewPending(index, opID, payload, time.Now())
}

func TestWatchCompletesAfterRunningPolls(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 0)
	h.fake.ScriptPolls(j.OperationID, testsupport.Running(), testsupport.Running(), testsupport.Done("https://cdn/clip-0.webm"))
	h.fake.SetDownload("https://cdn/clip-0.webm", "segment zero")

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateCompleted {
		t.Fatalf("expected completed, got %s (%v)", j.State, j.Err)
	}
	if j.Artifact == nil || j.Artifact.Path != h.store.PathFor(0, ".webm") {
		t.Fatalf("unexpected artifact %+v", j.Artifact)
	}
	data, err := os.ReadFile(j.Artifact.Path)
	if err != nil || string(data) != "segment zero" {
		t.Fatalf("unexpected artifact content %q (%v)", data, err)
	}
	if h.fake.PollCount(j.OperationID) != 3 {
		t.Fatalf("expected 3 polls, got %d", h.fake.PollCount(j.OperationID))
	}
	if h.recorder.finished[0] != job.StateCompleted {
		t.Fatalf("observer not told about completion: %v", h.recorder.finished)
	}
}

func TestWatchRecreatesTwiceThenCompletes(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 4)
	h.fake.ScriptPolls("op-1", testsupport.Failed("model overloaded"))
	h.fake.ScriptPolls("op-2", testsupport.Running(), testsupport.Failed("model overloaded"))
	h.fake.ScriptPolls("op-3", testsupport.Done("https://cdn/clip-4.mp4"))

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateCompleted {
		t.Fatalf("expected completed, got %s (%v)", j.State, j.Err)
	}
	if j.RecreateCount != 2 {
		t.Fatalf("expected recreate count 2, got %d", j.RecreateCount)
	}
	if j.OperationID != "op-3" {
		t.Fatalf("expected final operation op-3, got %s", j.OperationID)
	}
	if got := fmt.Sprint(h.recorder.recreated); got != "[op-1->op-2 op-2->op-3]" {
		t.Fatalf("unexpected recreations %s", got)
	}
	for _, sub := range h.fake.Submissions {
		if string(sub.Payload) != `{"prompt":"segment 4"}` {
			t.Fatalf("recreation did not reuse the original payload: %s", sub.Payload)
		}
	}
}

func TestWatchFailsAfterRecreateBudget(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 1)
	for i := 1; i <= 3; i++ {
		h.fake.ScriptPolls(fmt.Sprintf("op-%d", i), testsupport.Failed("content policy"))
	}

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateFailed {
		t.Fatalf("expected failed, got %s", j.State)
	}
	if !errors.Is(j.Err, job.ErrRecreateLimit) || !errors.Is(j.Err, provider.ErrOperationFailed) {
		t.Fatalf("unexpected error %v", j.Err)
	}
	if j.RecreateCount != 2 {
		t.Fatalf("expected recreate count 2, got %d", j.RecreateCount)
	}
	if h.fake.SubmitCount() != 3 {
		t.Fatalf("expected original plus 2 recreations, got %d submissions", h.fake.SubmitCount())
	}
}

func TestWatchRecreatesLostOperation(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 0)
	h.fake.ScriptPolls("op-1", testsupport.PollError(&provider.StatusError{Kind: provider.ErrNotFound, StatusCode: 404}))
	h.fake.ScriptPolls("op-2", testsupport.Done("https://cdn/clip.mp4"))

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateCompleted || j.RecreateCount != 1 {
		t.Fatalf("expected completed after one recreate, got %s / %d", j.State, j.RecreateCount)
	}
}

func TestWatchTreatsDoneWithoutURLAsFailure(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 0)
	h.fake.ScriptPolls("op-1", testsupport.Done(""))
	h.fake.ScriptPolls("op-2", testsupport.Done("https://cdn/clip.mp4"))

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateCompleted || j.RecreateCount != 1 {
		t.Fatalf("expected completed after one recreate, got %s / %d", j.State, j.RecreateCount)
	}
}

func TestWatchTimesOutWhenBudgetExhausted(t *testing.T) {
	settings := defaultSettings()
	settings.MaxPolls = 4
	h := newHarness(t, settings)
	j := h.submit(t, 2)

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateTimedOut || !errors.Is(j.Err, job.ErrTimedOut) {
		t.Fatalf("expected timed_out, got %s (%v)", j.State, j.Err)
	}
	if h.fake.PollCount("op-1") != 4 {
		t.Fatalf("expected 4 polls, got %d", h.fake.PollCount("op-1"))
	}
	if h.recorder.finished[2] != job.StateTimedOut {
		t.Fatalf("observer not told about timeout: %v", h.recorder.finished)
	}
}

func TestWatchRefreshesCredentialOnAuthError(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 0)
	h.fake.ScriptPolls("op-1",
		testsupport.PollError(&provider.StatusError{Kind: provider.ErrAuth, StatusCode: 401}),
		testsupport.Done("https://cdn/clip.mp4"),
	)

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateCompleted {
		t.Fatalf("expected completed, got %s", j.State)
	}
	if h.creds.ForcedCount() != 1 {
		t.Fatalf("expected one forced refresh, got %d", h.creds.ForcedCount())
	}
}

func TestWatchRecreatesFailedOperationWithAuthMessage(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 3)
	h.fake.ScriptPolls("op-1", testsupport.FailedAuth("session expired"))
	h.fake.ScriptPolls("op-2", testsupport.Done("https://cdn/clip-3.mp4"))

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateCompleted || j.RecreateCount != 1 {
		t.Fatalf("expected completed after one recreate, got %s / %d (%v)", j.State, j.RecreateCount, j.Err)
	}
	if got := h.fake.PollCount("op-1"); got != 2 {
		t.Fatalf("expected the failed operation to be polled twice, got %d", got)
	}
	if h.creds.ForcedCount() != 1 {
		t.Fatalf("expected a single forced refresh, got %d", h.creds.ForcedCount())
	}
	if got := fmt.Sprint(h.creds.Rejected); got != "[tok]" {
		t.Fatalf("expected the polled value to be reported as rejected, got %s", got)
	}
}

func TestWatchRetriesFailedDownloadOnNextPoll(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 0)
	h.fake.ScriptPolls("op-1", testsupport.Done("https://cdn/clip.mp4"))
	h.fake.FailDownloads(provider.ErrTransient)

	var once sync.Once
	m := monitor.New(h.fake, h.creds, nil, h.store, defaultSettings(),
		monitor.WithSleeper(func(ctx context.Context, d time.Duration) error {
			if d == 5*time.Second {
				once.Do(func() { h.fake.FailDownloads(nil) })
			}
			return ctx.Err()
		}),
	)
	if err := m.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateCompleted {
		t.Fatalf("expected completed, got %s (%v)", j.State, j.Err)
	}
	if h.fake.PollCount("op-1") != 2 {
		t.Fatalf("expected the download to be retried on the second poll, got %d polls", h.fake.PollCount("op-1"))
	}
}

func TestWatchFailsWhenCredentialsUnavailable(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 0)
	h.creds.Err = fmt.Errorf("%w: harvester crashed", credential.ErrAcquisition)

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateFailed || !errors.Is(j.Err, credential.ErrAcquisition) {
		t.Fatalf("expected failed with acquisition error, got %s (%v)", j.State, j.Err)
	}
}

func TestWatchReturnsContextError(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.monitor.Watch(ctx, j); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if j.State != job.StateFailed {
		t.Fatalf("expected failed, got %s", j.State)
	}
}

func TestReconcileAdoptsLateCompletion(t *testing.T) {
	settings := defaultSettings()
	settings.MaxPolls = 2
	h := newHarness(t, settings)
	j := h.submit(t, 3)
	h.fake.ScriptPolls("op-1", testsupport.Running(), testsupport.Running(), testsupport.Done("https://cdn/late.mp4"))

	if err := h.monitor.Watch(context.Background(), j); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if j.State != job.StateTimedOut {
		t.Fatalf("expected timed_out, got %s", j.State)
	}

	adopted, err := h.monitor.Reconcile(context.Background(), j)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !adopted || j.State != job.StateCompleted || !artifact.Exists(j.Artifact) {
		t.Fatalf("expected adoption, got adopted=%v state=%s artifact=%+v", adopted, j.State, j.Artifact)
	}
	if h.recorder.finished[3] != job.StateCompleted {
		t.Fatalf("observer not told about adoption: %v", h.recorder.finished)
	}
}

func TestReconcileIgnoresOtherStates(t *testing.T) {
	h := newHarness(t, defaultSettings())
	j := h.submit(t, 0)
	adopted, err := h.monitor.Reconcile(context.Background(), j)
	if err != nil || adopted {
		t.Fatalf("expected pending job to be ignored, got %v / %v", adopted, err)
	}
	if h.fake.PollCount("op-1") != 0 {
		t.Fatal("expected no poll for a non timed-out job")
	}
}

func TestFleetWatchesJobsIndependently(t *testing.T) {
	h := newHarness(t, defaultSettings())
	fleet := h.monitor.NewFleet(context.Background())

	jobs := make([]*job.Job, 5)
	for i := range jobs {
		jobs[i] = h.submit(t, i)
	}
	h.fake.ScriptPolls("op-1", testsupport.Running(), testsupport.Running(), testsupport.Running(), testsupport.Done("https://cdn/0.mp4"))
	h.fake.ScriptPolls("op-2", testsupport.Done("https://cdn/1.mp4"))
	// op-3 never finishes.
	h.fake.ScriptPolls("op-4", testsupport.Failed("boom"))
	h.fake.ScriptPolls("op-5", testsupport.Running(), testsupport.Done("https://cdn/4.mp4"))
	// op-6 is the recreation of segment 3.
	h.fake.ScriptPolls("op-6", testsupport.Done("https://cdn/3.mp4"))

	for _, j := range jobs {
		fleet.Watch(j)
	}
	if err := fleet.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if fleet.Len() != 5 {
		t.Fatalf("expected 5 registered jobs, got %d", fleet.Len())
	}
	want := []job.State{job.StateCompleted, job.StateCompleted, job.StateTimedOut, job.StateCompleted, job.StateCompleted}
	for i, j := range jobs {
		if j.State != want[i] {
			t.Fatalf("segment %d: expected %s, got %s (%v)", i, want[i], j.State, j.Err)
		}
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Monitor.InitialDelaySeconds = 12
	cfg.Monitor.PollIntervalSeconds = 3
	cfg.Monitor.MaxPolls = 40
	cfg.Monitor.MaxRecreate = 1
	s := monitor.SettingsFromConfig(cfg)
	if s.InitialDelay != 12*time.Second || s.PollInterval != 3*time.Second || s.MaxPolls != 40 || s.MaxRecreate != 1 || !s.Reconcile {
		t.Fatalf("unexpected settings %+v", s)
	}
}
