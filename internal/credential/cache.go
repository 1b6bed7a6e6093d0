package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"clipweave/internal/logging"
)

const (
	flightLookup  = "lookup"
	flightRefresh = "refresh"
	flightLive    = "live"
)

// Option customizes a Cache.
type Option func(*Cache)

// WithStore sets the persisted tier.
func WithStore(store Store) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithValidator checks persisted values with v before they are served.
func WithValidator(v Validator) Option {
	return func(c *Cache) {
		c.validator = v
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRefreshGrace sets how long after a completed forced refresh further
// forced calls are answered with the refreshed value instead of a new harvest.
// Zero disables the window.
func WithRefreshGrace(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// WithClock overrides time.Now (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for tier decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logging.NewComponentLogger(logger, "credential")
	}
}

// Cache hands out credentials from memory, the persisted store, or a live source.
type Cache struct {
	live      LiveSource
	store     Store
	validator Validator
	ttl       time.Duration
	grace     time.Duration
	now       func() time.Time
	logger    *slog.Logger

	group singleflight.Group

	mu          sync.RWMutex
	current     *Credential
	rejected    string
	refreshedAt time.Time
}

// DefaultRefreshGrace is the window after a forced refresh during which
// callers that were still holding the replaced value are served the new one.
const DefaultRefreshGrace = 10 * time.Second

// NewCache builds a cache over live. live may be nil when only the store is used.
func NewCache(live LiveSource, opts ...Option) *Cache {
	c := &Cache{
		live:   live,
		ttl:    DefaultTTL,
		grace:  DefaultRefreshGrace,
		now:    time.Now,
		logger: logging.NewComponentLogger(nil, "credential"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire returns a credential. Without forceRefresh a fresh memory entry is
// returned as-is; with forceRefresh the current value is treated as rejected,
// unless a forced refresh completed within the grace window.
func (c *Cache) Acquire(ctx context.Context, forceRefresh bool) (Credential, error) {
	if !forceRefresh {
		if cred, ok := c.cached(); ok {
			return cred, nil
		}
		return c.share(ctx, flightLookup, func(flightCtx context.Context) (Credential, error) {
			return c.lookup(flightCtx, false, "")
		})
	}
	return c.share(ctx, flightRefresh, func(flightCtx context.Context) (Credential, error) {
		return c.lookup(flightCtx, true, "")
	})
}

// Refresh is a forced refresh on behalf of a request that failed with the
// rejected value. When the cache already holds a different fresh value the
// rejected one was replaced earlier and that value is returned without a new
// acquisition.
func (c *Cache) Refresh(ctx context.Context, rejected string) (Credential, error) {
	if rejected == "" {
		return c.Acquire(ctx, true)
	}
	if cred, ok := c.cached(); ok && cred.Value != rejected {
		return cred, nil
	}
	return c.share(ctx, flightRefresh, func(flightCtx context.Context) (Credential, error) {
		return c.lookup(flightCtx, true, rejected)
	})
}

// Invalidate drops the memory entry; the next Acquire consults the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Status reports the current memory entry, if any.
func (c *Cache) Status() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Credential{}, false
	}
	return *c.current, true
}

// TTL returns the memory tier lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) cached() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || !c.current.FreshAt(c.now()) {
		return Credential{}, false
	}
	cred := *c.current
	cred.Source = SourceCache
	return cred, true
}

// share runs fn at most once per key across concurrent callers. The flight is
// detached from any single caller's cancellation; each caller stops waiting
// when its own context ends.
func (c *Cache) share(ctx context.Context, key string, fn func(context.Context) (Credential, error)) (Credential, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(flightCtx)
	})
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

func (c *Cache) lookup(ctx context.Context, force bool, rejectedValue string) (Credential, error) {
	c.mu.Lock()
	if force {
		if cred, ok := c.alreadyRefreshedLocked(rejectedValue); ok {
			c.mu.Unlock()
			c.logger.Debug("credential already refreshed",
				logging.String("credential", cred.Redacted()),
				logging.String(logging.FieldDecisionType, "credential_refresh"),
			)
			return cred, nil
		}
		if rejectedValue == "" && c.current != nil {
			rejectedValue = c.current.Value
		}
		if rejectedValue != "" {
			c.rejected = rejectedValue
			source := SourceCache
			if c.current != nil {
				source = c.current.Source
			}
			c.logger.Info("credential rejected; refreshing",
				logging.String("credential", Redact(rejectedValue)),
				logging.String("credential_source", string(source)),
			)
		}
		c.current = nil
	} else if c.current != nil && c.current.FreshAt(c.now()) {
		cred := *c.current
		c.mu.Unlock()
		cred.Source = SourceCache
		return cred, nil
	}
	rejected := c.rejected
	c.mu.Unlock()

	cred, err := c.fromStore(ctx, rejected)
	if err != nil {
		causes := []error{err}
		cred, err = c.share(ctx, flightLive, c.fromLive)
		if err != nil {
			causes = append(causes, err)
			logging.ErrorWithContext(c.logger, "credential acquisition failed", "credential_acquisition_failed",
				logging.Error(errors.Join(causes...)),
				logging.String(logging.FieldErrorHint, "check the live credential command or drop a valid credential into the store"),
			)
			return Credential{}, fmt.Errorf("%w: %w", ErrAcquisition, errors.Join(causes...))
		}
	}
	if force {
		c.mu.Lock()
		c.refreshedAt = c.now()
		c.mu.Unlock()
	}
	return cred, nil
}

// alreadyRefreshedLocked reports whether a forced refresh can be answered by
// the current value. With a known rejected value the current one must differ
// from it; without one the current value must come from a forced refresh
// that completed within the grace window. c.mu must be held.
func (c *Cache) alreadyRefreshedLocked(rejectedValue string) (Credential, bool) {
	if c.current == nil || !c.current.FreshAt(c.now()) {
		return Credential{}, false
	}
	if rejectedValue != "" {
		if c.current.Value == rejectedValue {
			return Credential{}, false
		}
	} else if c.refreshedAt.IsZero() || c.now().Sub(c.refreshedAt) >= c.grace {
		return Credential{}, false
	}
	cred := *c.current
	cred.Source = SourceCache
	return cred, true
}

var errStoreEmpty = errors.New("store: no credential stored")

func (c *Cache) fromStore(ctx context.Context, rejected string) (Credential, error) {
	if c.store == nil {
		return Credential{}, errors.New("store: not configured")
	}
	rec, ok, err := c.store.Load(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("store: %w", err)
	}
	if !ok {
		return Credential{}, errStoreEmpty
	}
	if rejected != "" && rec.Value == rejected {
		return Credential{}, errors.New("store: holds the rejected credential")
	}
	if c.validator != nil {
		if err := c.validator.Validate(ctx, rec.Value); err != nil {
			logging.WarnWithContext(c.logger, "stored credential failed validation", "credential_store_invalid",
				logging.Error(err),
				logging.String(logging.FieldImpact, "falling back to live acquisition"),
			)
			return Credential{}, fmt.Errorf("store: validation: %w", err)
		}
	}
	cred := Credential{
		Value:      rec.Value,
		Source:     SourceStore,
		AcquiredAt: c.now(),
		TTL:        c.ttl,
	}
	c.setCurrent(cred)
	c.logger.Info("credential loaded from store", logging.String("credential", cred.Redacted()))
	return cred, nil
}

func (c *Cache) fromLive(ctx context.Context) (Credential, error) {
	if c.live == nil {
		return Credential{}, errors.New("live: no source configured")
	}
	started := c.now()
	value, err := c.live.Acquire(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("live: %w", err)
	}
	if value == "" {
		return Credential{}, errors.New("live: empty credential")
	}
	cred := Credential{
		Value:      value,
		Source:     SourceLive,
		AcquiredAt: c.now(),
		TTL:        c.ttl,
	}
	if c.store != nil {
		if err := c.store.Save(ctx, Record{Value: cred.Value, AcquiredAt: cred.AcquiredAt}); err != nil {
			logging.WarnWithContext(c.logger, "failed to persist live credential", "credential_store_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next process will harvest a new credential"),
			)
		}
	}
	c.setCurrent(cred)
	c.logger.Info("credential acquired live",
		logging.String("credential", cred.Redacted()),
		logging.Duration("harvest_duration", cred.AcquiredAt.Sub(started)),
	)
	return cred, nil
}

func (c *Cache) setCurrent(cred Credential) {
	c.mu.Lock()
	c.current = &cred
	c.mu.Unlock()
}
