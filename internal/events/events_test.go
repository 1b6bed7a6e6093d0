package events_test

import (
	"context"
	"encoding/json"
	"testing"

	"clipweave/internal/events"
	"clipweave/internal/testsupport"
)

func TestSubjectLayout(t *testing.T) {
	e := events.Event{Type: events.SegmentFinished, RunID: "abc"}
	if got := events.Subject("clipweave.", e); got != "clipweave.abc.segment.finished" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Events.NATSURL = ""
	pub, err := events.NewPublisher(cfg, nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if _, ok := pub.(events.NoopPublisher); !ok {
		t.Fatalf("expected NoopPublisher, got %T", pub)
	}
	if err := pub.Publish(context.Background(), events.Event{Type: events.RunStarted}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
	pub.Close()
}

func TestNewPublisherReportsUnreachableServer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Events.NATSURL = "nats://127.0.0.1:1"
	if _, err := events.NewPublisher(cfg, nil); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestEventJSONOmitsEmptySegment(t *testing.T) {
	data, err := json.Marshal(events.Event{Type: events.RunStarted, RunID: "r"})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["segment_index"]; ok {
		t.Fatalf("expected segment_index omitted: %s", data)
	}

	data, _ = json.Marshal(events.Event{Type: events.SegmentSubmitted, RunID: "r", SegmentIndex: events.IntPtr(0)})
	_ = json.Unmarshal(data, &decoded)
	if v, ok := decoded["segment_index"]; !ok || v.(float64) != 0 {
		t.Fatalf("expected segment_index 0 to be present: %s", data)
	}
}
