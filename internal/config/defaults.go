package config

const (
	defaultWorkDir                = "~/.local/share/clipweave/runs"
	defaultStateDir               = "~/.local/share/clipweave/state"
	defaultLogDir                 = "~/.local/share/clipweave/logs"
	defaultProviderBaseURL        = "http://127.0.0.1:8790/v1"
	defaultProviderUserAgent      = "clipweave/0.1.0"
	defaultProviderTimeout        = 30
	defaultDownloadTimeout        = 300
	defaultCredentialTTLMinutes   = 30
	defaultLiveTimeoutSeconds     = 120
	defaultSegmentLengthSeconds   = 8
	defaultPromptTemplate         = "Scene {{.Number}} of {{.Count}}, {{.StartSeconds}}s to {{.EndSeconds}}s"
	defaultConcurrency            = 5
	defaultStaggerMillis          = 50
	defaultWaveCooldownMillis     = 1000
	defaultMaxAttempts            = 8
	defaultBackoffBaseMillis      = 1000
	defaultBackoffMaxSeconds      = 30
	defaultInitialDelaySeconds    = 30
	defaultPollIntervalSeconds    = 5
	defaultMaxPolls               = 120
	defaultMaxRecreate            = 2
	defaultAudioMode              = "replace"
	defaultPublishRegion          = "auto"
	defaultEventsSubjectPrefix    = "clipweave"
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogMaxSizeMB           = 50
	defaultLogMaxBackups          = 5
	defaultLogMaxAgeDays          = 30
	defaultCredentialFileBasename = "credential.json"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Provider: Provider{
			BaseURL:                defaultProviderBaseURL,
			UserAgent:              defaultProviderUserAgent,
			TimeoutSeconds:         defaultProviderTimeout,
			DownloadTimeoutSeconds: defaultDownloadTimeout,
		},
		Credential: Credential{
			TTLMinutes:         defaultCredentialTTLMinutes,
			LiveTimeoutSeconds: defaultLiveTimeoutSeconds,
		},
		Segments: Segments{
			LengthSeconds:  defaultSegmentLengthSeconds,
			PromptTemplate: defaultPromptTemplate,
		},
		Dispatch: Dispatch{
			Concurrency:        defaultConcurrency,
			StaggerMillis:      defaultStaggerMillis,
			WaveCooldownMillis: defaultWaveCooldownMillis,
			MaxAttempts:        defaultMaxAttempts,
			BackoffBaseMillis:  defaultBackoffBaseMillis,
			BackoffMaxSeconds:  defaultBackoffMaxSeconds,
		},
		Monitor: Monitor{
			InitialDelaySeconds: defaultInitialDelaySeconds,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			MaxPolls:            defaultMaxPolls,
			MaxRecreate:         defaultMaxRecreate,
			ReconcileTimedOut:   true,
		},
		Assembly: Assembly{
			FFmpegBinary: "ffmpeg",
			AudioMode:    defaultAudioMode,
		},
		Publish: Publish{
			Region: defaultPublishRegion,
		},
		Events: Events{
			SubjectPrefix: defaultEventsSubjectPrefix,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunCompleted:   true,
			Errors:         true,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}
