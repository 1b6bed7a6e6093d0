package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"clipweave/internal/artifact"
	"clipweave/internal/credential"
	"clipweave/internal/job"
	"clipweave/internal/logging"
	"clipweave/internal/provider"
	"clipweave/internal/services"
)

// Credentials is the slice of the credential cache the monitor needs.
type Credentials interface {
	Acquire(ctx context.Context, forceRefresh bool) (credential.Credential, error)
	Refresh(ctx context.Context, rejected string) (credential.Credential, error)
}

// Resubmitter issues a replacement operation for a segment.
type Resubmitter interface {
	Submit(ctx context.Context, index int, payload json.RawMessage) (string, error)
}

// Observer is told about recreations and terminal states. Callbacks receive a
// snapshot and run on the watcher goroutine, so they must be safe for
// concurrent use.
type Observer interface {
	JobRecreated(ctx context.Context, snapshot job.Job, previousOperationID string)
	JobFinished(ctx context.Context, snapshot job.Job)
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithSleeper replaces the context-aware wait used between polls.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Monitor) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithClock overrides time.Now for recreate timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		m.observer = o
	}
}

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logging.NewComponentLogger(logger, "monitor")
	}
}

// Monitor drives jobs from pending to a terminal state.
type Monitor struct {
	provider provider.Provider
	creds    Credentials
	resubmit Resubmitter
	store    *artifact.Store
	settings Settings
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

// New builds a Monitor. Artifacts are written into store.
func New(p provider.Provider, creds Credentials, resubmit Resubmitter, store *artifact.Store, settings Settings, opts ...Option) *Monitor {
	m := &Monitor{
		provider: p,
		creds:    creds,
		resubmit: resubmit,
		store:    store,
		settings: settings.normalized(),
		sleep:    sleepContext,
		now:      time.Now,
		logger:   logging.NewComponentLogger(nil, "monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Settings returns the effective settings.
func (m *Monitor) Settings() Settings {
	return m.settings
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeTimedOut
	outcomeOperationFailed
	outcomeAborted
)

// Watch polls j until it is completed, failed, or timed_out. The job is owned
// by Watch for the duration of the call. The returned error is non-nil only
// when ctx ended; the job is then failed with the context error.
func (m *Monitor) Watch(ctx context.Context, j *job.Job) error {
	ctx = services.WithSegment(ctx, j.SegmentIndex)
	for {
		result, cause := m.watchOperation(ctx, j)
		switch result {
		case outcomeCompleted:
			m.finished(ctx, j)
			return nil
		case outcomeTimedOut:
			_ = j.TimeOut()
			logging.WarnWithContext(m.jobLogger(ctx, j), "job timed out", "job_timed_out",
				logging.Int("max_polls", m.settings.MaxPolls),
				logging.String(logging.FieldImpact, "segment missing unless reconciled before assembly"),
			)
			m.finished(ctx, j)
			return nil
		case outcomeAborted:
			_ = j.Fail(cause)
			m.finished(ctx, j)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		case outcomeOperationFailed:
			if !m.recreate(ctx, j, cause) {
				m.finished(ctx, j)
				return nil
			}
		}
	}
}

// watchOperation waits the initial delay and polls the current operation.
func (m *Monitor) watchOperation(ctx context.Context, j *job.Job) (outcome, error) {
	logger := m.jobLogger(ctx, j)
	if err := m.sleep(ctx, m.settings.InitialDelay); err != nil {
		return outcomeAborted, err
	}

	var rejected string
	refreshedForFailure := false
	var extraDelay time.Duration
	for poll := 1; poll <= m.settings.MaxPolls; poll++ {
		if poll > 1 {
			if err := m.sleep(ctx, max(m.settings.PollInterval, extraDelay)); err != nil {
				return outcomeAborted, err
			}
		}
		extraDelay = 0

		cred, err := m.acquire(ctx, rejected)
		if err != nil {
			logging.ErrorWithContext(logger, "poll abandoned: no credential", "poll_no_credential",
				logging.Error(err),
				logging.Int(logging.FieldAttempt, poll),
			)
			return outcomeAborted, fmt.Errorf("poll %s: %w", j.OperationID, err)
		}
		rejected = ""

		status, err := m.provider.Poll(ctx, j.OperationID, cred.Value)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return outcomeAborted, ctx.Err()
			case errors.Is(err, provider.ErrNotFound), errors.Is(err, provider.ErrOperationFailed):
				return outcomeOperationFailed, err
			case provider.IsAuth(err) && status.State == provider.OperationFailed:
				// One refresh, then the failed operation is recreated.
				if refreshedForFailure {
					return outcomeOperationFailed, fmt.Errorf("%w: %s", provider.ErrOperationFailed, status.Error)
				}
				refreshedForFailure = true
				rejected = cred.Value
			case provider.IsAuth(err):
				rejected = cred.Value
			default:
				extraDelay = provider.RetryAfter(err)
			}
			logging.WarnWithContext(logger, "poll failed", "poll_failed",
				logging.Error(err),
				logging.Int(logging.FieldAttempt, poll),
				logging.Bool("refresh_credential", rejected != ""),
				logging.String(logging.FieldImpact, "poll counted against the budget"),
			)
			continue
		}

		switch status.State {
		case provider.OperationRunning:
			logger.Debug("operation still running", logging.Int(logging.FieldAttempt, poll))
		case provider.OperationFailed:
			return outcomeOperationFailed, fmt.Errorf("%w: %s", provider.ErrOperationFailed, status.Error)
		case provider.OperationDone:
			if status.ArtifactURL == "" {
				return outcomeOperationFailed, fmt.Errorf("%w: done without artifact url", provider.ErrOperationFailed)
			}
			art, err := m.download(ctx, j.SegmentIndex, status.ArtifactURL, cred.Value)
			if err != nil {
				if ctx.Err() != nil {
					return outcomeAborted, ctx.Err()
				}
				if provider.IsAuth(err) {
					rejected = cred.Value
				}
				logging.WarnWithContext(logger, "artifact download failed", "download_failed",
					logging.Error(err),
					logging.Int(logging.FieldAttempt, poll),
					logging.String(logging.FieldImpact, "download retried on next poll"),
				)
				continue
			}
			if err := j.Complete(art); err != nil {
				return outcomeAborted, err
			}
			logger.Info("segment completed",
				logging.Int(logging.FieldAttempt, poll),
				logging.String("artifact_path", art.Path),
				logging.Int64("artifact_bytes", art.SizeBytes),
				logging.Int("recreate_count", j.RecreateCount),
			)
			return outcomeCompleted, nil
		default:
			logger.Debug("unknown operation state", logging.String("state", string(status.State)))
		}
	}
	return outcomeTimedOut, job.ErrTimedOut
}

// recreate resubmits the original payload. It reports whether watching should
// continue with the new operation; when it returns false j is failed.
func (m *Monitor) recreate(ctx context.Context, j *job.Job, cause error) bool {
	logger := m.jobLogger(ctx, j)
	if !j.CanRecreate(m.settings.MaxRecreate) {
		_ = j.Fail(fmt.Errorf("%w after %d recreations: %w", job.ErrRecreateLimit, j.RecreateCount, cause))
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.Error(cause),
			logging.Int("recreate_count", j.RecreateCount),
			logging.String(logging.FieldErrorHint, "provider kept failing this segment; inspect its descriptor"),
		)
		return false
	}

	previous := j.OperationID
	opID, err := m.resubmit.Submit(ctx, j.SegmentIndex, j.Payload)
	if err != nil {
		_ = j.Fail(fmt.Errorf("recreate after %v: %w", cause, err))
		logging.ErrorWithContext(logger, "job recreation failed", "job_recreate_failed",
			logging.Error(err),
			logging.Int("recreate_count", j.RecreateCount),
		)
		return false
	}
	if err := j.Recreate(opID, m.settings.MaxRecreate, m.now()); err != nil {
		_ = j.Fail(err)
		return false
	}
	logging.WarnWithContext(logger, "job recreated", "job_recreated",
		logging.Error(cause),
		logging.String("previous_operation_id", previous),
		logging.String(logging.FieldOperationID, opID),
		logging.Int("recreate_count", j.RecreateCount),
		logging.String(logging.FieldImpact, "segment generation restarted"),
	)
	if m.observer != nil {
		m.observer.JobRecreated(ctx, *j, previous)
	}
	return true
}

// acquire reads a credential for one poll, forcing a refresh when the
// previous poll's value was rejected.
func (m *Monitor) acquire(ctx context.Context, rejected string) (credential.Credential, error) {
	if rejected != "" {
		return m.creds.Refresh(ctx, rejected)
	}
	return m.creds.Acquire(ctx, false)
}

// Reconcile polls a timed_out job once more and adopts a late completion.
// It reports whether the job was adopted; other jobs are left untouched.
func (m *Monitor) Reconcile(ctx context.Context, j *job.Job) (bool, error) {
	if j == nil || j.State != job.StateTimedOut || j.OperationID == "" {
		return false, nil
	}
	ctx = services.WithSegment(ctx, j.SegmentIndex)
	logger := m.jobLogger(ctx, j)

	cred, err := m.creds.Acquire(ctx, false)
	if err != nil {
		return false, fmt.Errorf("reconcile segment %d: %w", j.SegmentIndex, err)
	}
	status, err := m.provider.Poll(ctx, j.OperationID, cred.Value)
	if err != nil {
		return false, fmt.Errorf("reconcile segment %d: %w", j.SegmentIndex, err)
	}
	if status.State != provider.OperationDone || status.ArtifactURL == "" {
		logger.Info("timed-out job still unfinished",
			logging.String("state", string(status.State)),
			logging.String(logging.FieldDecisionType, "reconcile"),
		)
		return false, nil
	}
	art, err := m.download(ctx, j.SegmentIndex, status.ArtifactURL, cred.Value)
	if err != nil {
		return false, fmt.Errorf("reconcile segment %d: %w", j.SegmentIndex, err)
	}
	if err := j.Adopt(art); err != nil {
		return false, err
	}
	logger.Info("adopted late completion",
		logging.String("artifact_path", art.Path),
		logging.String(logging.FieldDecisionType, "reconcile"),
	)
	m.finished(ctx, j)
	return true, nil
}

func (m *Monitor) download(ctx context.Context, index int, url, cred string) (job.Artifact, error) {
	return m.store.Write(index, artifact.ExtensionFromURL(url), func(w io.Writer) (int64, error) {
		return m.provider.Download(ctx, url, cred, w)
	})
}

func (m *Monitor) finished(ctx context.Context, j *job.Job) {
	if m.observer != nil {
		m.observer.JobFinished(ctx, *j)
	}
}

func (m *Monitor) jobLogger(ctx context.Context, j *job.Job) *slog.Logger {
	return logging.WithContext(services.WithOperationID(ctx, j.OperationID), m.logger)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
