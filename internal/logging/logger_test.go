package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipweave/internal/config"
	"clipweave/internal/logging"
	"clipweave/internal/services"
)

func TestNewFromConfigWritesRotatingJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "info"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("run started", logging.String(logging.FieldRunID, "abc"))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "clipweave.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", line, err)
	}
	if record["msg"] != "run started" {
		t.Fatalf("unexpected msg: %v", record["msg"])
	}
	if record["level"] != "info" {
		t.Fatalf("unexpected level: %v", record["level"])
	}
	if record[logging.FieldRunID] != "abc" {
		t.Fatalf("expected run_id attr, got %v", record)
	}
}

func TestConsoleLoggerFormatsSubjectAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "monitor")

	ctx := services.WithRunID(context.Background(), "1a2b3c4d-0000-4000-8000-000000000000")
	ctx = services.WithSegment(ctx, 3)
	logging.WithContext(ctx, logger).Info("job completed",
		logging.Int64("size_bytes", 2048),
		logging.String("status", "done"),
	)

	out := buf.String()
	for _, fragment := range []string{"INFO", "[monitor]", "run 1a2b3c4d", "segment 3", "– job completed", "size_bytes=\"2.0 KB\"", "status=done"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in %q", fragment, out)
		}
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", out)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("message with caller")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected caller information, got %q", buf.String())
	}
}

func TestLevelFiltersLowerRecords(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "warn", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "download failed", "artifact_download_failed",
		logging.Error(errors.New("reset by peer")),
		logging.String(logging.FieldErrorHint, "check network"),
	)

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record[logging.FieldEventType] != "artifact_download_failed" {
		t.Fatalf("unexpected event type: %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] != "check network" {
		t.Fatalf("explicit hint should win, got %v", record[logging.FieldErrorHint])
	}
	if record[logging.FieldImpact] == nil {
		t.Fatal("expected default impact")
	}
}

func TestTeeLoggerDuplicatesRecords(t *testing.T) {
	var first, second bytes.Buffer
	base, err := logging.New(logging.Options{Format: "json", Level: "info", Console: &first})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	other, err := logging.New(logging.Options{Format: "json", Level: "info", Console: &second})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.TeeLogger(base, other.Handler()).With(logging.String("k", "v")).Info("hello")
	if !strings.Contains(first.String(), "hello") || !strings.Contains(second.String(), "\"k\":\"v\"") {
		t.Fatalf("expected both handlers to receive record: %q / %q", first.String(), second.String())
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		12:              "12 B",
		1536:            "1.5 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for input, want := range cases {
		if got := logging.FormatBytes(input); got != want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", input, got, want)
		}
	}
}
