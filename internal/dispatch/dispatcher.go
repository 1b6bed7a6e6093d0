package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clipweave/internal/credential"
	"clipweave/internal/job"
	"clipweave/internal/logging"
	"clipweave/internal/provider"
	"clipweave/internal/segment"
	"clipweave/internal/services"
)

// ErrAttemptsExhausted is returned when every submission attempt failed with a retryable error.
var ErrAttemptsExhausted = errors.New("submission attempts exhausted")

// Credentials is the slice of the credential cache the dispatcher needs.
type Credentials interface {
	Acquire(ctx context.Context, forceRefresh bool) (credential.Credential, error)
	Refresh(ctx context.Context, rejected string) (credential.Credential, error)
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithSleeper overrides how stagger, cooldown, and backoff waits are performed (useful for tests).
func WithSleeper(sleeper Sleeper) Option {
	return func(d *Dispatcher) {
		if sleeper != nil {
			d.sleep = sleeper
		}
	}
}

// WithClock overrides time.Now for SubmittedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logging.NewComponentLogger(logger, "dispatch")
	}
}

// Dispatcher submits segments under a Policy.
type Dispatcher struct {
	provider provider.Provider
	creds    Credentials
	policy   Policy
	sleep    Sleeper
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a Dispatcher.
func New(p provider.Provider, creds Credentials, policy Policy, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider: p,
		creds:    creds,
		policy:   policy.normalized(),
		sleep:    SleepContext,
		now:      time.Now,
		logger:   logging.NewComponentLogger(nil, "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policy returns the effective policy.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// DispatchAll submits every segment and returns one job per segment, in
// segment order. Pending jobs are passed to register as soon as their
// submission succeeds; register is called from several goroutines and must be
// safe for concurrent use. Segments whose submission never succeeded come back
// as failed jobs and are not registered. concurrency <= 0 uses the policy value.
func (d *Dispatcher) DispatchAll(ctx context.Context, segments []segment.Segment, concurrency int, register func(*job.Job)) []*job.Job {
	if concurrency <= 0 {
		concurrency = d.policy.Concurrency
	}
	jobs := make([]*job.Job, len(segments))
	waves := Waves(len(segments), concurrency)

	d.logger.Info("dispatch starting",
		logging.Int("segment_count", len(segments)),
		logging.Int("wave_count", len(waves)),
		logging.Int("concurrency", concurrency),
	)

	for w, wave := range waves {
		if ctx.Err() != nil {
			d.failRemaining(jobs, segments, ctx.Err())
			break
		}
		var wg sync.WaitGroup
		for k, pos := range wave {
			wg.Add(1)
			go func(k, pos int) {
				defer wg.Done()
				seg := segments[pos]
				if err := d.sleep(ctx, time.Duration(k)*d.policy.Stagger); err != nil {
					jobs[pos] = job.NewFailed(seg.Index, seg.Descriptor, err)
					return
				}
				opID, err := d.Submit(ctx, seg.Index, seg.Descriptor)
				if err != nil {
					jobs[pos] = job.NewFailed(seg.Index, seg.Descriptor, err)
					return
				}
				j := job.NewPending(seg.Index, opID, seg.Descriptor, d.now())
				jobs[pos] = j
				if register != nil {
					register(j)
				}
			}(k, pos)
		}
		wg.Wait()

		if w < len(waves)-1 && d.policy.WaveCooldown > 0 {
			if err := d.sleep(ctx, d.policy.WaveCooldown); err != nil {
				d.failRemaining(jobs, segments, err)
				break
			}
		}
	}
	return jobs
}

func (d *Dispatcher) failRemaining(jobs []*job.Job, segments []segment.Segment, cause error) {
	for pos, j := range jobs {
		if j == nil {
			jobs[pos] = job.NewFailed(segments[pos].Index, segments[pos].Descriptor, cause)
		}
	}
}

// Submit sends payload for the given segment and returns the provider
// operation id. It retries rate limits, transient failures, and auth failures
// (after forcing a credential refresh) up to the policy's attempt limit.
// Credential acquisition failures and non-retryable provider errors end the
// call immediately.
func (d *Dispatcher) Submit(ctx context.Context, index int, payload json.RawMessage) (string, error) {
	ctx = services.WithSegment(ctx, index)
	logger := logging.WithContext(ctx, d.logger)

	var rejected string
	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		cred, err := d.acquire(ctx, rejected)
		if err != nil {
			if errors.Is(err, credential.ErrAcquisition) {
				logging.ErrorWithContext(logger, "submission abandoned: no credential", "submit_no_credential",
					logging.Error(err),
					logging.Int(logging.FieldAttempt, attempt),
				)
			}
			return "", fmt.Errorf("submit segment %d: %w", index, err)
		}
		rejected = ""

		opID, err := d.provider.Submit(ctx, payload, cred.Value)
		if err == nil {
			logger.Info("segment submitted",
				logging.String(logging.FieldOperationID, opID),
				logging.Int(logging.FieldAttempt, attempt),
				logging.String("credential_source", string(cred.Source)),
			)
			return opID, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", fmt.Errorf("submit segment %d: %w", index, ctx.Err())
		}
		if !provider.Retryable(err) {
			logging.ErrorWithContext(logger, "submission rejected", "submit_rejected",
				logging.Error(err),
				logging.Int(logging.FieldAttempt, attempt),
				logging.String(logging.FieldErrorHint, "inspect the segment descriptor and provider response"),
			)
			return "", fmt.Errorf("submit segment %d: %w", index, err)
		}
		if attempt == d.policy.MaxAttempts {
			break
		}

		var delay time.Duration
		if provider.IsAuth(err) {
			rejected = cred.Value
		} else {
			delay = d.policy.Backoff(attempt)
			if hint := min(provider.RetryAfter(err), d.policy.BackoffMax); hint > delay {
				delay = hint
			}
		}
		logging.WarnWithContext(logger, "submission failed; retrying", "submit_retry",
			logging.Error(err),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("retry_in", delay),
			logging.Bool("refresh_credential", rejected != ""),
			logging.String(logging.FieldImpact, "segment submission delayed"),
		)
		if err := d.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("submit segment %d: %w", index, err)
		}
	}
	logging.ErrorWithContext(logger, "submission attempts exhausted", "submit_exhausted",
		logging.Error(lastErr),
		logging.Int("max_attempts", d.policy.MaxAttempts),
		logging.String(logging.FieldErrorHint, "provider kept failing; check its status and rate limits"),
	)
	return "", fmt.Errorf("submit segment %d: %w after %d attempts: %w", index, ErrAttemptsExhausted, d.policy.MaxAttempts, lastErr)
}

// SleepContext waits for d or until ctx ends.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// acquire reads a credential, forcing a refresh when the previous attempt's
// value was rejected.
func (d *Dispatcher) acquire(ctx context.Context, rejected string) (credential.Credential, error) {
	if rejected != "" {
		return d.creds.Refresh(ctx, rejected)
	}
	return d.creds.Acquire(ctx, false)
}
