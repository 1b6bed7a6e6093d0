package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clipweave/internal/config"
)

// CheckPublishFromConfig evaluates the upload target from config alone.
func CheckPublishFromConfig(cfg *config.Config) Result {
	const name = "Publish"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Publish.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if cfg.Publish.Bucket == "" {
		return Result{Name: name, Detail: "Missing bucket"}
	}
	if cfg.Publish.AccessKey == "" || cfg.Publish.SecretKey == "" {
		return Result{Name: name, Detail: "Missing access credentials"}
	}
	target := "s3://" + cfg.Publish.Bucket
	if cfg.Publish.Prefix != "" {
		target += "/" + cfg.Publish.Prefix
	}
	if cfg.Publish.Endpoint != "" {
		target += " via " + cfg.Publish.Endpoint
	}
	return Result{Name: name, Passed: true, Detail: target}
}

// CheckEventsFromConfig evaluates the progress event sink from config alone.
func CheckEventsFromConfig(cfg *config.Config) Result {
	const name = "Events"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Events.NATSURL) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (subjects %s.>)", cfg.Events.NATSURL, cfg.Events.SubjectPrefix)}
}

// CheckNotificationsFromConfig evaluates ntfy delivery from config alone.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: topic}
}

// Report gathers every check the doctor command renders, in display order.
func Report(ctx context.Context, cfg *config.Config, credentialValue string) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	for _, status := range CheckSystemDeps(ctx, cfg) {
		detail := status.Detail
		if detail == "" {
			detail = status.Command
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available || status.Optional, Detail: detail})
	}
	results = append(results,
		CheckCredentialStore(ctx, cfg.Credential.StorePath, cfg.CredentialTTL(), time.Now()),
		CheckProvider(ctx, cfg, credentialValue),
		CheckPublishFromConfig(cfg),
		CheckEventsFromConfig(cfg),
		CheckNotificationsFromConfig(cfg),
	)
	return results
}
