package dispatch

import (
	"time"

	"clipweave/internal/config"
)

const (
	defaultConcurrency = 5
	defaultMaxAttempts = 8
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 30 * time.Second
)

// Policy captures the submission window and retry settings.
type Policy struct {
	Concurrency  int
	Stagger      time.Duration
	WaveCooldown time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// PolicyFromConfig reads the [dispatch] section.
func PolicyFromConfig(cfg *config.Config) Policy {
	if cfg == nil {
		return Policy{}.normalized()
	}
	return Policy{
		Concurrency:  cfg.Dispatch.Concurrency,
		Stagger:      time.Duration(cfg.Dispatch.StaggerMillis) * time.Millisecond,
		WaveCooldown: time.Duration(cfg.Dispatch.WaveCooldownMillis) * time.Millisecond,
		MaxAttempts:  cfg.Dispatch.MaxAttempts,
		BackoffBase:  time.Duration(cfg.Dispatch.BackoffBaseMillis) * time.Millisecond,
		BackoffMax:   time.Duration(cfg.Dispatch.BackoffMaxSeconds) * time.Second,
	}.normalized()
}

func (p Policy) normalized() Policy {
	if p.Concurrency <= 0 {
		p.Concurrency = defaultConcurrency
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = defaultBackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = defaultBackoffMax
	}
	if p.Stagger < 0 {
		p.Stagger = 0
	}
	if p.WaveCooldown < 0 {
		p.WaveCooldown = 0
	}
	return p
}

// Backoff returns base*2^(attempt-1) capped at BackoffMax. attempt is 1-based.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		if delay > p.BackoffMax/2 {
			return p.BackoffMax
		}
		delay *= 2
	}
	if delay > p.BackoffMax {
		return p.BackoffMax
	}
	return delay
}

// Waves splits segment positions 0..n-1 into consecutive windows of at most
// concurrency entries: Waves(12, 5) yields sizes [5 5 2].
func Waves(n, concurrency int) [][]int {
	if n <= 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	waves := make([][]int, 0, (n+concurrency-1)/concurrency)
	for start := 0; start < n; start += concurrency {
		end := start + concurrency
		if end > n {
			end = n
		}
		wave := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			wave = append(wave, i)
		}
		waves = append(waves, wave)
	}
	return waves
}
