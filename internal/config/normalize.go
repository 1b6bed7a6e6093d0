package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProvider()
	if err := c.normalizeCredential(); err != nil {
		return err
	}
	c.normalizeAssembly()
	c.normalizePublish()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeProvider() {
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	if value, ok := os.LookupEnv("CLIPWEAVE_PROVIDER_URL"); ok && strings.TrimSpace(value) != "" {
		c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
	}
	c.Provider.Model = strings.TrimSpace(c.Provider.Model)
	c.Provider.UserAgent = strings.TrimSpace(c.Provider.UserAgent)
	if c.Provider.UserAgent == "" {
		c.Provider.UserAgent = defaultProviderUserAgent
	}
}

func (c *Config) normalizeCredential() error {
	if c.Credential.Token == "" {
		if value, ok := os.LookupEnv("CLIPWEAVE_PROVIDER_TOKEN"); ok {
			c.Credential.Token = value
		}
	}
	c.Credential.Token = strings.TrimSpace(c.Credential.Token)

	if strings.TrimSpace(c.Credential.StorePath) == "" {
		c.Credential.StorePath = filepath.Join(c.Paths.StateDir, defaultCredentialFileBasename)
	}
	var err error
	if c.Credential.StorePath, err = expandPath(c.Credential.StorePath); err != nil {
		return fmt.Errorf("credential.store_path: %w", err)
	}

	command := make([]string, 0, len(c.Credential.LiveCommand))
	for _, part := range c.Credential.LiveCommand {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			command = append(command, trimmed)
		}
	}
	c.Credential.LiveCommand = command
	return nil
}

func (c *Config) normalizeAssembly() {
	c.Assembly.FFmpegBinary = strings.TrimSpace(c.Assembly.FFmpegBinary)
	if c.Assembly.FFmpegBinary == "" {
		c.Assembly.FFmpegBinary = "ffmpeg"
	}
	c.Assembly.AudioMode = strings.ToLower(strings.TrimSpace(c.Assembly.AudioMode))
	if c.Assembly.AudioMode == "" {
		c.Assembly.AudioMode = defaultAudioMode
	}
}

func (c *Config) normalizePublish() {
	if c.Publish.AccessKey == "" {
		if value, ok := os.LookupEnv("CLIPWEAVE_S3_ACCESS_KEY"); ok {
			c.Publish.AccessKey = value
		}
	}
	if c.Publish.SecretKey == "" {
		if value, ok := os.LookupEnv("CLIPWEAVE_S3_SECRET_KEY"); ok {
			c.Publish.SecretKey = value
		}
	}
	c.Publish.AccessKey = strings.TrimSpace(c.Publish.AccessKey)
	c.Publish.SecretKey = strings.TrimSpace(c.Publish.SecretKey)
	c.Publish.Endpoint = strings.TrimSpace(c.Publish.Endpoint)
	c.Publish.Bucket = strings.TrimSpace(c.Publish.Bucket)
	c.Publish.Prefix = strings.Trim(strings.TrimSpace(c.Publish.Prefix), "/")
	c.Publish.PublicURL = strings.TrimRight(strings.TrimSpace(c.Publish.PublicURL), "/")
	c.Publish.Region = strings.TrimSpace(c.Publish.Region)
	if c.Publish.Region == "" {
		c.Publish.Region = defaultPublishRegion
	}
}

func (c *Config) normalizeEvents() {
	c.Events.NATSURL = strings.TrimSpace(c.Events.NATSURL)
	c.Events.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Events.SubjectPrefix), ".")
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = defaultEventsSubjectPrefix
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
