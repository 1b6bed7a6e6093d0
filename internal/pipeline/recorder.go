package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"clipweave/internal/events"
	"clipweave/internal/job"
	"clipweave/internal/logging"
	"clipweave/internal/runstore"
)

// recorder persists job snapshots and mirrors them as events. It is the
// monitor's observer and the dispatcher's registration hook, so calls arrive
// from many goroutines; writes are serialized.
type recorder struct {
	runID  string
	runs   *runstore.Store
	events events.Publisher
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

func (r *recorder) submitted(ctx context.Context, snapshot job.Job) {
	r.persist(ctx, snapshot)
	r.publish(ctx, events.Event{
		Type:         events.SegmentSubmitted,
		SegmentIndex: events.IntPtr(snapshot.SegmentIndex),
		State:        string(snapshot.State),
		OperationID:  snapshot.OperationID,
	})
}

func (r *recorder) JobRecreated(ctx context.Context, snapshot job.Job, previousOperationID string) {
	r.persist(ctx, snapshot)
	r.publish(ctx, events.Event{
		Type:          events.SegmentRecreated,
		SegmentIndex:  events.IntPtr(snapshot.SegmentIndex),
		State:         string(snapshot.State),
		OperationID:   snapshot.OperationID,
		RecreateCount: snapshot.RecreateCount,
		Message:       "replaces " + previousOperationID,
	})
}

func (r *recorder) JobFinished(ctx context.Context, snapshot job.Job) {
	r.persist(ctx, snapshot)
	r.publish(ctx, events.Event{
		Type:          events.SegmentFinished,
		SegmentIndex:  events.IntPtr(snapshot.SegmentIndex),
		State:         string(snapshot.State),
		OperationID:   snapshot.OperationID,
		RecreateCount: snapshot.RecreateCount,
		Message:       snapshot.ErrorMessage(),
	})
}

func (r *recorder) persist(ctx context.Context, snapshot job.Job) {
	if r.runs == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.runs.RecordSegment(context.WithoutCancel(ctx), r.runID, snapshot); err != nil {
		logging.WarnWithContext(r.logger, "segment progress not persisted", "segment_persist_failed",
			logging.Int(logging.FieldSegmentIndex, snapshot.SegmentIndex),
			logging.String(logging.FieldErrorHint, "check run database access"),
			logging.String(logging.FieldImpact, "runs show may lag behind the manifest"),
			logging.Error(err),
		)
	}
}

func (r *recorder) publish(ctx context.Context, event events.Event) {
	event.RunID = r.runID
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	if err := r.events.Publish(ctx, event); err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("run cancelled, progress event dropped", logging.String("event", string(event.Type)))
			return
		}
		r.logger.Debug("progress event not published",
			logging.String("event", string(event.Type)),
			logging.Error(err),
		)
	}
}
