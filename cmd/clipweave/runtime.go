package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"clipweave/internal/config"
	"clipweave/internal/credential"
	"clipweave/internal/events"
	"clipweave/internal/logging"
	"clipweave/internal/notifications"
	"clipweave/internal/provider/httpapi"
	"clipweave/internal/publish"
	"clipweave/internal/runstore"
)

// runtime holds the long-lived collaborators one command invocation needs.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *httpapi.Client
	creds    *credential.Cache
	store    *credential.FileStore
	runs     *runstore.Store
	events   events.Publisher
	notifier notifications.Service
	uploader publish.Uploader
}

type runtimeNeeds struct {
	runStore bool
	sinks    bool
}

func (c *commandContext) buildRuntime(ctx context.Context, stderr io.Writer, needs runtimeNeeds) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.newLogger(cfg, stderr)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	client, err := httpapi.New(httpapi.Config{
		BaseURL:                cfg.Provider.BaseURL,
		UserAgent:              cfg.Provider.UserAgent,
		TimeoutSeconds:         cfg.Provider.TimeoutSeconds,
		DownloadTimeoutSeconds: cfg.Provider.DownloadTimeoutSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("provider client: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		store:    credential.NewFileStore(cfg.Credential.StorePath),
		events:   events.NoopPublisher{},
		notifier: notifications.NewService(cfg),
	}
	rt.creds = newCredentialCache(cfg, rt.store, client, logger)

	if needs.runStore {
		rt.runs, err = runstore.Open(cfg.RunDBPath())
		if err != nil {
			return nil, fmt.Errorf("open run store: %w", err)
		}
	}
	if needs.sinks {
		pub, err := events.NewPublisher(cfg, logger)
		if err != nil {
			logging.WarnWithContext(logger, "progress events disabled", "events_unavailable",
				logging.String("nats_url", cfg.Events.NATSURL),
				logging.String(logging.FieldErrorHint, "check events.nats_url and that the server is up"),
				logging.String(logging.FieldImpact, "run progress is not published"),
				logging.Error(err),
			)
		} else {
			rt.events = pub
		}
		uploader, err := publish.NewUploader(ctx, cfg, logger)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("publish: %w", err)
		}
		rt.uploader = uploader
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt == nil {
		return
	}
	if rt.events != nil {
		rt.events.Close()
	}
	if rt.runs != nil {
		_ = rt.runs.Close()
	}
}

// liveSource picks the harvesting command when configured, otherwise the
// static token.
func liveSource(cfg *config.Config) credential.LiveSource {
	if len(cfg.Credential.LiveCommand) > 0 {
		return credential.CommandSource{Command: cfg.Credential.LiveCommand, Timeout: cfg.LiveTimeout()}
	}
	return credential.StaticSource{Token: cfg.Credential.Token}
}

func newCredentialCache(cfg *config.Config, store credential.Store, validator credential.Validator, logger *slog.Logger) *credential.Cache {
	opts := []credential.Option{
		credential.WithStore(store),
		credential.WithTTL(cfg.CredentialTTL()),
		credential.WithLogger(logger),
	}
	if cfg.Credential.ValidateStored {
		opts = append(opts, credential.WithValidator(validator))
	}
	return credential.NewCache(liveSource(cfg), opts...)
}
