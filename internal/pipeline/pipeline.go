package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"clipweave/internal/artifact"
	"clipweave/internal/assemble"
	"clipweave/internal/config"
	"clipweave/internal/credential"
	"clipweave/internal/dispatch"
	"clipweave/internal/events"
	"clipweave/internal/job"
	"clipweave/internal/logging"
	"clipweave/internal/monitor"
	"clipweave/internal/notifications"
	"clipweave/internal/preflight"
	"clipweave/internal/provider"
	"clipweave/internal/publish"
	"clipweave/internal/runstore"
	"clipweave/internal/segment"
	"clipweave/internal/services"
)

// Credentials is the credential cache as seen by the dispatcher and monitor.
type Credentials interface {
	Acquire(ctx context.Context, forceRefresh bool) (credential.Credential, error)
	Refresh(ctx context.Context, rejected string) (credential.Credential, error)
}

// Request describes one run. Zero values fall back to configuration.
type Request struct {
	TotalDuration time.Duration
	SegmentLength time.Duration
	Concurrency   int
	MaxSegments   int
	AudioTrack    string
	AudioMode     assemble.AudioMode
	OutputPath    string
}

// Result is returned for every run that got as far as dispatch, including
// runs whose assembly failed.
type Result struct {
	RunID        string   `json:"run_id"`
	OutputPath   string   `json:"output_path"`
	PublishedURL string   `json:"published_url,omitempty"`
	Manifest     Manifest `json:"manifest"`
}

// Pipeline wires segmentation, dispatch, monitoring and assembly together.
type Pipeline struct {
	cfg       *config.Config
	provider  provider.Provider
	creds     Credentials
	describer segment.Describer
	runs      *runstore.Store
	events    events.Publisher
	notifier  notifications.Service
	uploader  publish.Uploader
	runner    assemble.CommandRunner
	preflight func(context.Context, *config.Config) []preflight.Result
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
	newID     func() string

	baseLogger *slog.Logger
	logger     *slog.Logger
}

// New builds a Pipeline for cfg.
func New(cfg *config.Config, p provider.Provider, creds Credentials, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline config is nil")
	}
	if p == nil {
		return nil, errors.New("pipeline provider is nil")
	}
	if creds == nil {
		return nil, errors.New("pipeline credentials are nil")
	}
	pl := &Pipeline{
		cfg:        cfg,
		provider:   p,
		creds:      creds,
		events:     events.NoopPublisher{},
		notifier:   notifications.NewService(nil),
		sleep:      dispatch.SleepContext,
		now:        time.Now,
		newID:      uuid.NewString,
		baseLogger: logging.NewNop(),
		logger:     logging.NewComponentLogger(nil, "pipeline"),
	}
	for _, opt := range opts {
		opt(pl)
	}
	if pl.describer == nil {
		d, err := segment.NewTemplateDescriber(cfg.Segments.PromptTemplate, cfg.Provider.Model)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "describer", "segments.prompt_template", err)
		}
		pl.describer = d
	}
	return pl, nil
}

func (p *Pipeline) resolve(req Request) Request {
	if req.SegmentLength <= 0 {
		req.SegmentLength = p.cfg.SegmentLength()
	}
	if req.MaxSegments == 0 {
		req.MaxSegments = p.cfg.Segments.MaxSegments
	}
	if req.Concurrency <= 0 {
		req.Concurrency = p.cfg.Dispatch.Concurrency
	}
	if req.AudioMode == "" {
		req.AudioMode = assemble.AudioMode(p.cfg.Assembly.AudioMode)
	}
	return req
}

// Run executes one request. Invalid input returns before anything is
// persisted. Once dispatch has started a Result is always returned, and the
// error reports why the output is missing or the run was cut short.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	req = p.resolve(req)

	segments, err := segment.Plan(req.TotalDuration, req.SegmentLength, req.MaxSegments)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "plan segments", "", err)
	}
	if p.preflight != nil {
		if msg := preflight.Summarize(p.preflight(ctx, p.cfg)); msg != "" {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "preflight", msg, nil)
		}
	}
	segments, err = segment.Describe(segments, p.describer)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "describe segments", "", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := p.newID()
	createdAt := p.now().UTC()
	store := artifact.New(p.cfg.Paths.WorkDir, runID)
	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(store.RunDir(), "output"+artifact.DefaultExtension)
	}
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, p.logger)

	if p.runs != nil {
		if err := p.runs.CreateRun(ctx, runstore.Run{
			ID:            runID,
			CreatedAt:     createdAt,
			TotalDuration: req.TotalDuration,
			SegmentLength: req.SegmentLength,
			SegmentCount:  len(segments),
			Concurrency:   req.Concurrency,
			OutputPath:    outputPath,
		}); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
	}

	rec := &recorder{runID: runID, runs: p.runs, events: p.events, now: p.now, logger: logger}
	rec.publish(ctx, events.Event{
		Type:    events.RunStarted,
		Message: fmt.Sprintf("%d segments of %s", len(segments), req.SegmentLength),
	})
	logger.Info("run starting",
		logging.Int("segment_count", len(segments)),
		logging.Duration("total_duration", req.TotalDuration),
		logging.Duration("segment_length", req.SegmentLength),
		logging.Int("concurrency", req.Concurrency),
		logging.String("output_path", outputPath),
	)

	jobs, mon := p.dispatchAndWatch(ctx, segments, req.Concurrency, store, rec)
	if mon.Settings().Reconcile && ctx.Err() == nil {
		p.reconcile(ctx, mon, jobs, logger)
	}

	manifest := Manifest{
		RunID:         runID,
		CreatedAt:     createdAt,
		TotalDuration: req.TotalDuration.Seconds(),
		SegmentLength: req.SegmentLength.Seconds(),
		Segments:      buildSegments(segments, jobs),
	}
	result := &Result{RunID: runID, Manifest: manifest}

	if ctxErr := ctx.Err(); ctxErr != nil {
		manifest.Incomplete = true
		manifest.Missing = missingFrom(manifest.Segments)
		manifest.Error = "run interrupted"
		p.finish(ctx, store, result, manifest, runstore.StatusInterrupted, ctxErr, logger)
		return result, ctxErr
	}

	assembler := assemble.New(p.cfg.FFmpegBinary(),
		assemble.WithRunner(p.runner),
		assemble.WithLogger(p.baseLogger),
	)
	out, asmErr := assembler.Assemble(ctx, jobs, assemble.Request{
		Total:      len(segments),
		OutputPath: outputPath,
		AudioTrack: req.AudioTrack,
		AudioMode:  req.AudioMode,
	})
	manifest.Missing = out.Missing
	markExcluded(manifest.Segments, out.Missing)
	manifest.Incomplete = out.Incomplete || asmErr != nil
	if asmErr != nil {
		manifest.Error = asmErr.Error()
		p.finish(ctx, store, result, manifest, runstore.StatusFailed, asmErr, logger)
		return result, fmt.Errorf("run %s: %w", runID, asmErr)
	}

	manifest.OutputPath = out.OutputPath
	result.OutputPath = out.OutputPath
	if p.uploader != nil {
		url, err := p.uploader.Upload(ctx, runID, out.OutputPath)
		if err != nil {
			logging.WarnWithContext(logger, "output upload failed", "publish_failed",
				logging.String(logging.FieldErrorHint, "check [publish] bucket and credentials"),
				logging.String(logging.FieldImpact, "output is available locally only"),
				logging.Error(err),
			)
		} else {
			manifest.PublishedURL = url
			result.PublishedURL = url
		}
	}

	status := runstore.StatusCompleted
	if manifest.Incomplete {
		status = runstore.StatusPartial
	}
	p.finish(ctx, store, result, manifest, status, nil, logger)
	return result, nil
}

// dispatchAndWatch submits every segment and blocks until each accepted job
// has reached a terminal state.
func (p *Pipeline) dispatchAndWatch(ctx context.Context, segments []segment.Segment, concurrency int, store *artifact.Store, rec *recorder) ([]*job.Job, *monitor.Monitor) {
	dispatcher := dispatch.New(p.provider, p.creds, dispatch.PolicyFromConfig(p.cfg),
		dispatch.WithSleeper(p.sleep),
		dispatch.WithClock(p.now),
		dispatch.WithLogger(p.baseLogger),
	)
	mon := monitor.New(p.provider, p.creds, dispatcher, store, monitor.SettingsFromConfig(p.cfg),
		monitor.WithObserver(rec),
		monitor.WithSleeper(p.sleep),
		monitor.WithClock(p.now),
		monitor.WithLogger(p.baseLogger),
	)
	fleet := mon.NewFleet(ctx)

	var mu sync.Mutex
	registered := make(map[int]struct{}, len(segments))
	jobs := dispatcher.DispatchAll(ctx, segments, concurrency, func(j *job.Job) {
		mu.Lock()
		registered[j.SegmentIndex] = struct{}{}
		mu.Unlock()
		rec.submitted(ctx, *j)
		fleet.Watch(j)
	})

	// Jobs that were never registered belong to no watcher and are safe to read.
	for _, j := range jobs {
		if j == nil {
			continue
		}
		mu.Lock()
		_, watched := registered[j.SegmentIndex]
		mu.Unlock()
		if !watched {
			rec.JobFinished(ctx, *j)
		}
	}

	if err := fleet.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Debug("monitor fleet returned", logging.Error(err))
	}
	return jobs, mon
}

func (p *Pipeline) reconcile(ctx context.Context, mon *monitor.Monitor, jobs []*job.Job, logger *slog.Logger) {
	for _, j := range jobs {
		if j == nil || j.State != job.StateTimedOut {
			continue
		}
		adopted, err := mon.Reconcile(ctx, j)
		if err != nil {
			logging.WarnWithContext(logger, "timed-out segment not reconciled", "reconcile_failed",
				logging.Int(logging.FieldSegmentIndex, j.SegmentIndex),
				logging.String(logging.FieldImpact, "segment stays missing from the output"),
				logging.Error(err),
			)
			continue
		}
		if adopted {
			logger.Info("timed-out segment recovered", logging.Int(logging.FieldSegmentIndex, j.SegmentIndex))
		}
	}
}

func missingFrom(segments []ManifestSegment) []int {
	missing := make([]int, 0)
	for _, s := range segments {
		if s.Status != job.StateCompleted {
			missing = append(missing, s.SegmentIndex)
		}
	}
	return missing
}
