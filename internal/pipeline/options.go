package pipeline

import (
	"context"
	"log/slog"
	"time"

	"clipweave/internal/assemble"
	"clipweave/internal/config"
	"clipweave/internal/events"
	"clipweave/internal/logging"
	"clipweave/internal/notifications"
	"clipweave/internal/preflight"
	"clipweave/internal/publish"
	"clipweave/internal/runstore"
	"clipweave/internal/segment"
)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithDescriber sets how segment descriptors are produced. Without one the
// configured prompt template is used.
func WithDescriber(d segment.Describer) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.describer = d
		}
	}
}

// WithRunStore persists runs and segment progress.
func WithRunStore(store *runstore.Store) Option {
	return func(p *Pipeline) {
		p.runs = store
	}
}

// WithEvents publishes progress events.
func WithEvents(pub events.Publisher) Option {
	return func(p *Pipeline) {
		if pub != nil {
			p.events = pub
		}
	}
}

// WithNotifier sends run summaries and failures.
func WithNotifier(n notifications.Service) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithUploader publishes the assembled output.
func WithUploader(u publish.Uploader) Option {
	return func(p *Pipeline) {
		p.uploader = u
	}
}

// WithCommandRunner replaces the ffmpeg process runner.
func WithCommandRunner(r assemble.CommandRunner) Option {
	return func(p *Pipeline) {
		p.runner = r
	}
}

// WithPreflight runs check before any segment is submitted.
func WithPreflight(check func(context.Context, *config.Config) []preflight.Result) Option {
	return func(p *Pipeline) {
		p.preflight = check
	}
}

// WithSleeper replaces the wait used for stagger, backoff and polling.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) {
		if newID != nil {
			p.newID = newID
		}
	}
}

// WithLogger sets the base logger; components derive their own from it.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.baseLogger = logger
			p.logger = logging.NewComponentLogger(logger, "pipeline")
		}
	}
}
