package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir  string `toml:"work_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Provider contains connection settings for the remote generation provider.
type Provider struct {
	BaseURL                string `toml:"base_url"`
	Model                  string `toml:"model"`
	UserAgent              string `toml:"user_agent"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
}

// Credential contains configuration for the tiered credential cache.
type Credential struct {
	// TTLMinutes bounds how long an in-memory credential is trusted.
	TTLMinutes int `toml:"ttl_minutes"`
	// StorePath is the persisted credential file. Defaults to <state_dir>/credential.json.
	StorePath string `toml:"store_path"`
	// ValidateStored asks the provider to accept a persisted credential before it is used.
	ValidateStored bool `toml:"validate_stored"`
	// Token seeds live acquisition with a fixed value (CLIPWEAVE_PROVIDER_TOKEN).
	// Ignored when LiveCommand is set.
	Token string `toml:"token"`
	// LiveCommand harvests a fresh session; the credential is read from stdout.
	LiveCommand        []string `toml:"live_command"`
	LiveTimeoutSeconds int      `toml:"live_timeout_seconds"`
}

// Segments contains the default segmentation settings.
type Segments struct {
	LengthSeconds  float64 `toml:"length_seconds"`
	MaxSegments    int     `toml:"max_segments"`
	PromptTemplate string  `toml:"prompt_template"`
}

// Dispatch contains the windowed submission policy.
type Dispatch struct {
	Concurrency        int `toml:"concurrency"`
	StaggerMillis      int `toml:"stagger_ms"`
	WaveCooldownMillis int `toml:"wave_cooldown_ms"`
	MaxAttempts        int `toml:"max_attempts"`
	BackoffBaseMillis  int `toml:"backoff_base_ms"`
	BackoffMaxSeconds  int `toml:"backoff_max_seconds"`
}

// Monitor contains the per-job polling policy.
type Monitor struct {
	InitialDelaySeconds int  `toml:"initial_delay_seconds"`
	PollIntervalSeconds int  `toml:"poll_interval_seconds"`
	MaxPolls            int  `toml:"max_polls"`
	MaxRecreate         int  `toml:"max_recreate"`
	ReconcileTimedOut   bool `toml:"reconcile_timed_out"`
}

// Assembly contains settings for joining artifacts into the final output.
type Assembly struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	AudioMode     string `toml:"audio_mode"`
	KeepArtifacts bool   `toml:"keep_artifacts"`
}

// Publish contains settings for uploading the final output to S3-compatible storage.
type Publish struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	PublicURL string `toml:"public_url"`
}

// Events contains settings for progress event publishing.
type Events struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunCompleted   bool   `toml:"run_completed"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Config encapsulates all configuration values for clipweave.
//
// Configuration sections by subsystem:
//   - Paths: run work directory, state directory, log directory
//   - Provider: remote generation endpoint
//   - Credential: tiered credential cache and live acquisition
//   - Segments: default segment length, cap, and prompt template
//   - Dispatch: submission waves, stagger, retry backoff
//   - Monitor: polling cadence, poll budget, recreate bound
//   - Assembly: ffmpeg binary, audio post-step, artifact retention
//   - Publish: optional S3 upload of the output
//   - Events: optional NATS progress events
//   - Notifications: ntfy run summaries
//   - Logging: log format, level, and rotation
type Config struct {
	Paths         Paths         `toml:"paths"`
	Provider      Provider      `toml:"provider"`
	Credential    Credential    `toml:"credential"`
	Segments      Segments      `toml:"segments"`
	Dispatch      Dispatch      `toml:"dispatch"`
	Monitor       Monitor       `toml:"monitor"`
	Assembly      Assembly      `toml:"assembly"`
	Publish       Publish       `toml:"publish"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipweave/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Values from .env and .env.local in the working
// directory are exported before environment fallbacks are applied.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipweave.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the work, state, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RunDBPath returns the SQLite run ledger location.
func (c *Config) RunDBPath() string {
	return filepath.Join(c.Paths.StateDir, "runs.db")
}

// LogFilePath returns the rotating log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "clipweave.log")
}

// FFmpegBinary returns the ffmpeg executable used for assembly.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Assembly.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// SegmentLength returns the configured default segment length.
func (c *Config) SegmentLength() time.Duration {
	return time.Duration(c.Segments.LengthSeconds * float64(time.Second))
}

// CredentialTTL returns how long a cached credential stays valid.
func (c *Config) CredentialTTL() time.Duration {
	return time.Duration(c.Credential.TTLMinutes) * time.Minute
}

// LiveTimeout bounds a single live credential acquisition.
func (c *Config) LiveTimeout() time.Duration {
	return time.Duration(c.Credential.LiveTimeoutSeconds) * time.Second
}

// ProviderTimeout bounds provider submit and poll requests.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// DownloadTimeout bounds a single artifact download.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Provider.DownloadTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
