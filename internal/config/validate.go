package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateCredential(); err != nil {
		return err
	}
	if err := c.validateSegments(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateMonitor(); err != nil {
		return err
	}
	if err := c.validateAssembly(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url must be set")
	}
	parsed, err := url.Parse(c.Provider.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("provider.base_url %q is not an absolute URL", c.Provider.BaseURL)
	}
	return ensurePositiveMap(map[string]int{
		"provider.timeout_seconds":          c.Provider.TimeoutSeconds,
		"provider.download_timeout_seconds": c.Provider.DownloadTimeoutSeconds,
	})
}

func (c *Config) validateCredential() error {
	if c.Credential.TTLMinutes <= 0 {
		return errors.New("credential.ttl_minutes must be positive")
	}
	if len(c.Credential.LiveCommand) > 0 && c.Credential.LiveTimeoutSeconds <= 0 {
		return errors.New("credential.live_timeout_seconds must be positive when credential.live_command is set")
	}
	return nil
}

func (c *Config) validateSegments() error {
	if c.Segments.LengthSeconds <= 0 {
		return errors.New("segments.length_seconds must be positive")
	}
	if c.Segments.MaxSegments < 0 {
		return errors.New("segments.max_segments must be >= 0 (0 disables the cap)")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if err := ensurePositiveMap(map[string]int{
		"dispatch.concurrency":         c.Dispatch.Concurrency,
		"dispatch.max_attempts":        c.Dispatch.MaxAttempts,
		"dispatch.backoff_base_ms":     c.Dispatch.BackoffBaseMillis,
		"dispatch.backoff_max_seconds": c.Dispatch.BackoffMaxSeconds,
	}); err != nil {
		return err
	}
	if c.Dispatch.StaggerMillis < 0 {
		return errors.New("dispatch.stagger_ms must be >= 0")
	}
	if c.Dispatch.WaveCooldownMillis < 0 {
		return errors.New("dispatch.wave_cooldown_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateMonitor() error {
	if err := ensurePositiveMap(map[string]int{
		"monitor.poll_interval_seconds": c.Monitor.PollIntervalSeconds,
		"monitor.max_polls":             c.Monitor.MaxPolls,
	}); err != nil {
		return err
	}
	if c.Monitor.InitialDelaySeconds < 0 {
		return errors.New("monitor.initial_delay_seconds must be >= 0")
	}
	if c.Monitor.MaxRecreate < 0 {
		return errors.New("monitor.max_recreate must be >= 0")
	}
	return nil
}

func (c *Config) validateAssembly() error {
	switch c.Assembly.AudioMode {
	case "replace", "mix":
		return nil
	default:
		return fmt.Errorf("assembly.audio_mode must be \"replace\" or \"mix\", got %q", c.Assembly.AudioMode)
	}
}

func (c *Config) validatePublish() error {
	if !c.Publish.Enabled {
		return nil
	}
	if c.Publish.Bucket == "" {
		return errors.New("publish.bucket must be set when publish.enabled is true")
	}
	if c.Publish.AccessKey == "" || c.Publish.SecretKey == "" {
		return errors.New("publish.access_key and publish.secret_key must be set when publish.enabled is true (or set CLIPWEAVE_S3_ACCESS_KEY / CLIPWEAVE_S3_SECRET_KEY)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		return errors.New("logging.level must be set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
