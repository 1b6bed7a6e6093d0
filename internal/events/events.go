// Package events publishes run progress for external dashboards. Events go to
// NATS when events.nats_url is set and are dropped otherwise.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"clipweave/internal/config"
	"clipweave/internal/logging"
)

// Type names an event.
type Type string

const (
	RunStarted       Type = "run.started"
	SegmentSubmitted Type = "segment.submitted"
	SegmentRecreated Type = "segment.recreated"
	SegmentFinished  Type = "segment.finished"
	RunCompleted     Type = "run.completed"
)

// Event is one progress update.
type Event struct {
	Type          Type      `json:"type"`
	RunID         string    `json:"run_id"`
	SegmentIndex  *int      `json:"segment_index,omitempty"`
	State         string    `json:"state,omitempty"`
	OperationID   string    `json:"operation_id,omitempty"`
	RecreateCount int       `json:"recreate_count,omitempty"`
	Included      int       `json:"included,omitempty"`
	Missing       []int     `json:"missing,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Subject returns the NATS subject for event: <prefix>.<run_id>.<type>.
func Subject(prefix string, event Event) string {
	return fmt.Sprintf("%s.%s.%s", strings.Trim(prefix, "."), event.RunID, event.Type)
}

// NewPublisher connects to NATS when configured and returns a no-op publisher
// otherwise.
func NewPublisher(cfg *config.Config, logger *slog.Logger) (Publisher, error) {
	if cfg == nil || strings.TrimSpace(cfg.Events.NATSURL) == "" {
		return NoopPublisher{}, nil
	}
	return ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
}

// NATSPublisher publishes JSON events on core NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials url and returns a publisher using subject prefix.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logging.NewComponentLogger(logger, "events")
	nc, err := nats.Connect(url,
		nats.Name("clipweave"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.WarnWithContext(logger, "nats disconnected", "events_disconnected",
					logging.Error(err),
					logging.String(logging.FieldImpact, "progress events buffered until reconnect"),
				)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSPublisher(nc, prefix, logger), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix = strings.Trim(strings.TrimSpace(prefix), "."); prefix == "" {
		prefix = "clipweave"
	}
	return &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		logger: logging.NewComponentLogger(logger, "events"),
	}
}

// Publish sends event as JSON.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(p.prefix, event)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.DebugContext(ctx, "event published", logging.String("subject", subject))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Drain()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() {}

// IntPtr is a helper for Event.SegmentIndex.
func IntPtr(v int) *int {
	return &v
}
