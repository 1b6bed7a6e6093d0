package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"clipweave/internal/credential"
	"clipweave/internal/dispatch"
	"clipweave/internal/job"
	"clipweave/internal/provider"
	"clipweave/internal/segment"
	"clipweave/internal/testsupport"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func planSegments(t *testing.T, n int) []segment.Segment {
	t.Helper()
	segs, err := segment.Plan(time.Duration(n)*8*time.Second, 8*time.Second, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for i := range segs {
		segs[i].Descriptor = json.RawMessage(fmt.Sprintf(`{"prompt":"segment %d"}`, i))
	}
	return segs
}

func testPolicy() dispatch.Policy {
	return dispatch.Policy{
		Concurrency:  5,
		Stagger:      10 * time.Millisecond,
		WaveCooldown: time.Second,
		MaxAttempts:  4,
		BackoffBase:  100 * time.Millisecond,
		BackoffMax:   time.Second,
	}
}

func TestWavesSplitsIntoWindows(t *testing.T) {
	waves := dispatch.Waves(12, 5)
	sizes := make([]int, len(waves))
	for i, w := range waves {
		sizes[i] = len(w)
	}
	if fmt.Sprint(sizes) != "[5 5 2]" {
		t.Fatalf("unexpected wave sizes %v", sizes)
	}
	if waves[2][0] != 10 || waves[2][1] != 11 {
		t.Fatalf("unexpected last wave %v", waves[2])
	}
	if dispatch.Waves(0, 5) != nil {
		t.Fatal("expected no waves for zero segments")
	}
	if got := len(dispatch.Waves(3, 0)); got != 3 {
		t.Fatalf("expected non-positive concurrency to fall back to 1, got %d waves", got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := testPolicy()
	cases := map[int]time.Duration{
		0:  100 * time.Millisecond,
		1:  100 * time.Millisecond,
		2:  200 * time.Millisecond,
		3:  400 * time.Millisecond,
		4:  800 * time.Millisecond,
		5:  time.Second,
		40: time.Second,
	}
	for attempt, want := range cases {
		if got := p.Backoff(attempt); got != want {
			t.Fatalf("Backoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestPolicyFromConfigReadsDispatchSection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Dispatch.Concurrency = 3
	cfg.Dispatch.StaggerMillis = 25
	cfg.Dispatch.WaveCooldownMillis = 500
	p := dispatch.PolicyFromConfig(cfg)
	if p.Concurrency != 3 || p.Stagger != 25*time.Millisecond || p.WaveCooldown != 500*time.Millisecond {
		t.Fatalf("unexpected policy %+v", p)
	}
	if def := dispatch.PolicyFromConfig(nil); def.Concurrency != 5 || def.MaxAttempts != 8 {
		t.Fatalf("unexpected default policy %+v", def)
	}
}

func TestDispatchAllRegistersPendingJobsInOrder(t *testing.T) {
	fake := testsupport.NewFakeProvider()
	creds := testsupport.NewFakeCredentials("tok")
	sleeper := &recordingSleeper{}
	d := dispatch.New(fake, creds, testPolicy(), dispatch.WithSleeper(sleeper.Sleep))

	var mu sync.Mutex
	registered := map[int]string{}
	jobs := d.DispatchAll(context.Background(), planSegments(t, 12), 0, func(j *job.Job) {
		mu.Lock()
		defer mu.Unlock()
		registered[j.SegmentIndex] = j.OperationID
	})

	if len(jobs) != 12 {
		t.Fatalf("expected 12 jobs, got %d", len(jobs))
	}
	for i, j := range jobs {
		if j.SegmentIndex != i {
			t.Fatalf("job %d has segment index %d", i, j.SegmentIndex)
		}
		if j.State != job.StatePending || j.OperationID == "" {
			t.Fatalf("job %d not pending: %+v", i, j)
		}
		if registered[i] != j.OperationID {
			t.Fatalf("job %d registered with %q, returned %q", i, registered[i], j.OperationID)
		}
		if string(j.Payload) != fmt.Sprintf(`{"prompt":"segment %d"}`, i) {
			t.Fatalf("job %d carries payload %s", i, j.Payload)
		}
	}
	if fake.SubmitCount() != 12 {
		t.Fatalf("expected 12 submissions, got %d", fake.SubmitCount())
	}

	cooldowns := 0
	staggers := map[time.Duration]int{}
	for _, delay := range sleeper.Delays() {
		if delay == time.Second {
			cooldowns++
			continue
		}
		staggers[delay]++
	}
	if cooldowns != 2 {
		t.Fatalf("expected 2 wave cooldowns for 3 waves, got %d", cooldowns)
	}
	if staggers[0] != 3 || staggers[40*time.Millisecond] != 2 || staggers[10*time.Millisecond] != 3 {
		t.Fatalf("unexpected stagger distribution %v", staggers)
	}
}

func TestDispatchAllHonoursConcurrencyOverride(t *testing.T) {
	fake := testsupport.NewFakeProvider()
	sleeper := &recordingSleeper{}
	d := dispatch.New(fake, testsupport.NewFakeCredentials("tok"), testPolicy(), dispatch.WithSleeper(sleeper.Sleep))

	d.DispatchAll(context.Background(), planSegments(t, 4), 2, nil)

	cooldowns := 0
	for _, delay := range sleeper.Delays() {
		if delay == time.Second {
			cooldowns++
		}
	}
	if cooldowns != 1 {
		t.Fatalf("expected one cooldown between two waves of 2, got %d", cooldowns)
	}
}

func TestSubmitRetriesTransientThenSucceeds(t *testing.T) {
	fake := testsupport.NewFakeProvider()
	fake.FailSubmits(
		&provider.StatusError{Kind: provider.ErrTransient, StatusCode: 503},
		&provider.StatusError{Kind: provider.ErrRateLimit, StatusCode: 429, RetryAfter: 700 * time.Millisecond},
	)
	sleeper := &recordingSleeper{}
	d := dispatch.New(fake, testsupport.NewFakeCredentials("tok"), testPolicy(), dispatch.WithSleeper(sleeper.Sleep))

	opID, err := d.Submit(context.Background(), 0, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if opID != "op-1" {
		t.Fatalf("unexpected operation id %q", opID)
	}
	delays := sleeper.Delays()
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %v", delays)
	}
	if delays[0] != 100*time.Millisecond {
		t.Fatalf("expected first backoff 100ms, got %s", delays[0])
	}
	if delays[1] != 700*time.Millisecond {
		t.Fatalf("expected Retry-After to stretch second backoff to 700ms, got %s", delays[1])
	}
}

func TestSubmitForcesCredentialRefreshOnAuthFailure(t *testing.T) {
	fake := testsupport.NewFakeProvider()
	fake.FailSubmits(errors.New("session expired, please sign in again"))
	creds := testsupport.NewFakeCredentials("tok")
	sleeper := &recordingSleeper{}
	d := dispatch.New(fake, creds, testPolicy(), dispatch.WithSleeper(sleeper.Sleep))

	if _, err := d.Submit(context.Background(), 3, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if creds.ForcedCount() != 1 {
		t.Fatalf("expected one forced refresh, got %d", creds.ForcedCount())
	}
	if len(creds.Rejected) != 1 || creds.Rejected[0] != "tok" {
		t.Fatalf("expected the submitted value to be reported as rejected, got %v", creds.Rejected)
	}
	for _, delay := range sleeper.Delays() {
		if delay != 0 {
			t.Fatalf("expected no backoff after an auth failure, got %s", delay)
		}
	}
}

func TestSubmitStopsOnNonRetryableError(t *testing.T) {
	fake := testsupport.NewFakeProvider()
	fake.FailSubmits(&provider.StatusError{Kind: provider.ErrRejected, StatusCode: 400, Body: "bad descriptor"})
	d := dispatch.New(fake, testsupport.NewFakeCredentials("tok"), testPolicy(), dispatch.WithSleeper(testsupport.NoSleep))

	_, err := d.Submit(context.Background(), 0, json.RawMessage(`{}`))
	if !errors.Is(err, provider.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if fake.SubmitCount() != 1 {
		t.Fatalf("expected a single attempt, got %d", fake.SubmitCount())
	}
}

func TestSubmitExhaustsAttempts(t *testing.T) {
	fake := testsupport.NewFakeProvider()
	fake.SubmitFunc(func(json.RawMessage) error { return provider.ErrTransient })
	d := dispatch.New(fake, testsupport.NewFakeCredentials("tok"), testPolicy(), dispatch.WithSleeper(testsupport.NoSleep))

	_, err := d.Submit(context.Background(), 0, json.RawMessage(`{}`))
	if !errors.Is(err, dispatch.ErrAttemptsExhausted) || !errors.Is(err, provider.ErrTransient) {
		t.Fatalf("expected exhausted transient error, got %v", err)
	}
	if fake.SubmitCount() != 4 {
		t.Fatalf("expected 4 attempts, got %d", fake.SubmitCount())
	}
}

func TestDispatchAllMarksEverySegmentFailedWhenCredentialsUnavailable(t *testing.T) {
	fake := testsupport.NewFakeProvider()
	creds := testsupport.NewFakeCredentials("")
	creds.Err = fmt.Errorf("%w: every tier failed", credential.ErrAcquisition)
	d := dispatch.New(fake, creds, testPolicy(), dispatch.WithSleeper(testsupport.NoSleep))

	registered := 0
	done := make(chan []*job.Job, 1)
	go func() {
		done <- d.DispatchAll(context.Background(), planSegments(t, 7), 5, func(*job.Job) { registered++ })
	}()

	var jobs []*job.Job
	select {
	case jobs = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch hung without credentials")
	}
	if registered != 0 {
		t.Fatalf("expected no registrations, got %d", registered)
	}
	for _, j := range jobs {
		if j.State != job.StateFailed {
			t.Fatalf("expected segment %d failed, got %s", j.SegmentIndex, j.State)
		}
		if !errors.Is(j.Err, credential.ErrAcquisition) {
			t.Fatalf("expected acquisition error on segment %d, got %v", j.SegmentIndex, j.Err)
		}
		if j.OperationID != "" {
			t.Fatalf("failed submission should have no operation id, got %q", j.OperationID)
		}
	}
	if fake.SubmitCount() != 0 {
		t.Fatalf("expected no provider calls, got %d", fake.SubmitCount())
	}
}

func TestDispatchAllFailsRemainingSegmentsOnCancel(t *testing.T) {
	fake := testsupport.NewFakeProvider()
	ctx, cancel := context.WithCancel(context.Background())
	d := dispatch.New(fake, testsupport.NewFakeCredentials("tok"), testPolicy(),
		dispatch.WithSleeper(func(ctx context.Context, d time.Duration) error {
			if d == time.Second {
				cancel()
			}
			return ctx.Err()
		}))

	jobs := d.DispatchAll(ctx, planSegments(t, 8), 5, nil)
	pending, failed := 0, 0
	for _, j := range jobs {
		switch j.State {
		case job.StatePending:
			pending++
		case job.StateFailed:
			failed++
		}
	}
	if pending != 5 || failed != 3 {
		t.Fatalf("expected 5 pending and 3 failed, got %d and %d", pending, failed)
	}
}
