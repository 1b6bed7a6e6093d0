package monitor

import (
	"time"

	"clipweave/internal/config"
)

// Settings controls the polling cadence and recreate budget.
type Settings struct {
	InitialDelay time.Duration
	PollInterval time.Duration
	MaxPolls     int
	MaxRecreate  int
	Reconcile    bool
}

// SettingsFromConfig reads the [monitor] section.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{}.normalized()
	}
	return Settings{
		InitialDelay: time.Duration(cfg.Monitor.InitialDelaySeconds) * time.Second,
		PollInterval: time.Duration(cfg.Monitor.PollIntervalSeconds) * time.Second,
		MaxPolls:     cfg.Monitor.MaxPolls,
		MaxRecreate:  cfg.Monitor.MaxRecreate,
		Reconcile:    cfg.Monitor.ReconcileTimedOut,
	}.normalized()
}

func (s Settings) normalized() Settings {
	if s.InitialDelay < 0 {
		s.InitialDelay = 0
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 5 * time.Second
	}
	if s.MaxPolls <= 0 {
		s.MaxPolls = 120
	}
	if s.MaxRecreate < 0 {
		s.MaxRecreate = 0
	}
	return s
}
