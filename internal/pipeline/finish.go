package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"clipweave/internal/artifact"
	"clipweave/internal/events"
	"clipweave/internal/logging"
	"clipweave/internal/notifications"
	"clipweave/internal/runstore"
)

// finish writes the manifest, closes the run row, notifies, and cleans up.
// It runs detached from ctx so an interrupted run is still recorded.
func (p *Pipeline) finish(ctx context.Context, store *artifact.Store, result *Result, manifest Manifest, status runstore.Status, runErr error, logger *slog.Logger) {
	bg := context.WithoutCancel(ctx)
	manifest.CompletedAt = p.now().UTC()
	result.Manifest = manifest

	data, err := writeManifest(store.ManifestPath(), manifest)
	if err != nil {
		logging.WarnWithContext(logger, "manifest not written", "manifest_write_failed",
			logging.String("manifest_path", store.ManifestPath()),
			logging.String(logging.FieldErrorHint, "check work directory permissions"),
			logging.String(logging.FieldImpact, "run summary only available from runs show"),
			logging.Error(err),
		)
	}

	if p.runs != nil {
		outcome := runstore.Outcome{
			Status:       status,
			OutputPath:   manifest.OutputPath,
			PublishedURL: manifest.PublishedURL,
			Incomplete:   manifest.Incomplete,
			ManifestJSON: data,
		}
		if runErr != nil {
			outcome.ErrorMessage = runErr.Error()
		}
		if err := p.runs.FinishRun(bg, result.RunID, outcome); err != nil {
			logging.WarnWithContext(logger, "run outcome not persisted", "run_persist_failed",
				logging.String(logging.FieldErrorHint, "check run database access"),
				logging.String(logging.FieldImpact, "runs list shows the run as running"),
				logging.Error(err),
			)
		}
	}

	p.notify(bg, result, manifest, status, runErr, logger)

	rec := &recorder{runID: result.RunID, events: p.events, now: p.now, logger: logger}
	rec.publish(bg, events.Event{
		Type:     events.RunCompleted,
		State:    string(status),
		Included: manifest.Completed(),
		Missing:  manifest.Missing,
		Message:  manifest.Error,
	})

	if status == runstore.StatusCompleted || status == runstore.StatusPartial {
		if p.cfg.Assembly.KeepArtifacts {
			logger.Debug("keeping segment artifacts", logging.String("segments_dir", store.SegmentsDir()))
		} else if err := store.RemoveSegments(); err != nil {
			logging.WarnWithContext(logger, "segment artifacts not removed", "artifact_cleanup_failed",
				logging.String("segments_dir", store.SegmentsDir()),
				logging.String(logging.FieldImpact, "disk space is not reclaimed"),
				logging.Error(err),
			)
		}
	}

	attrs := []logging.Attr{
		logging.String("status", string(status)),
		logging.Int("completed", manifest.Completed()),
		logging.Int("missing", len(manifest.Missing)),
		logging.Duration("elapsed", manifest.CompletedAt.Sub(manifest.CreatedAt)),
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "run finished without output", "run_failed",
			append(attrs, logging.Error(runErr))...,
		)
		return
	}
	if status == runstore.StatusPartial {
		attrs = append(attrs, logging.Alert("partial_output"))
	}
	logger.Info("run finished", logging.Args(attrs...)...)
}

func (p *Pipeline) notify(ctx context.Context, result *Result, manifest Manifest, status runstore.Status, runErr error, logger *slog.Logger) {
	var err error
	switch {
	case status == runstore.StatusInterrupted:
		return
	case runErr != nil:
		err = p.notifier.NotifyError(ctx, runErr, "run "+shortID(result.RunID))
	default:
		err = p.notifier.NotifyRunCompleted(ctx, notifications.RunSummary{
			RunID:        result.RunID,
			Total:        len(manifest.Segments),
			Included:     manifest.Completed(),
			Missing:      manifest.Missing,
			OutputPath:   manifest.OutputPath,
			PublishedURL: manifest.PublishedURL,
			Duration:     manifest.CompletedAt.Sub(manifest.CreatedAt).Round(time.Second),
		})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("run notification failed", logging.Error(err))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
