package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipweave/internal/config"
)

const userAgent = "clipweave/0.1.0"

// RunSummary describes a finished run.
type RunSummary struct {
	RunID        string
	Total        int
	Included     int
	Missing      []int
	OutputPath   string
	PublishedURL string
	Duration     time.Duration
}

// Service defines the notification surface exposed to the pipeline and CLI.
type Service interface {
	NotifyRunCompleted(ctx context.Context, summary RunSummary) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		runCompleted: cfg.Notifications.RunCompleted,
		errors:       cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	runCompleted bool
	errors       bool
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, summary RunSummary) error {
	if !n.runCompleted {
		return nil
	}
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var b strings.Builder
	data := payload{tags: []string{"clipweave", "run"}}
	if len(summary.Missing) == 0 {
		data.title = "clipweave - Run Complete"
		data.tags = append(data.tags, "completed")
		fmt.Fprintf(&b, "✅ %d/%d segments assembled in %s", summary.Included, summary.Total, duration)
	} else {
		data.title = "clipweave - Run Incomplete"
		data.tags = append(data.tags, "partial")
		data.priority = "high"
		fmt.Fprintf(&b, "⚠️ %d/%d segments assembled in %s; missing %s",
			summary.Included, summary.Total, duration, formatIndices(summary.Missing))
	}
	if summary.PublishedURL != "" {
		fmt.Fprintf(&b, "\nURL: %s", summary.PublishedURL)
	} else if summary.OutputPath != "" {
		fmt.Fprintf(&b, "\nFile: %s", summary.OutputPath)
	}
	if summary.RunID != "" {
		fmt.Fprintf(&b, "\nRun: %s", summary.RunID)
	}
	data.message = b.String()
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "clipweave - Error",
		message:  builder.String(),
		tags:     []string{"clipweave", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "clipweave - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"clipweave", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// formatIndices renders at most ten indices, then a count of the rest.
func formatIndices(indices []int) string {
	const limit = 10
	parts := make([]string, 0, min(len(indices), limit))
	for i, idx := range indices {
		if i == limit {
			break
		}
		parts = append(parts, fmt.Sprint(idx))
	}
	text := strings.Join(parts, ", ")
	if extra := len(indices) - limit; extra > 0 {
		text += fmt.Sprintf(" (+%d more)", extra)
	}
	return text
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, RunSummary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error     { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
