package credential

import (
	"errors"
	"time"
)

// ErrAcquisition is returned when every tier failed to produce a credential.
var ErrAcquisition = errors.New("credential acquisition failed")

// Source names the tier that answered a lookup.
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
	SourceLive  Source = "live"
)

// DefaultTTL bounds how long an in-memory credential is served.
const DefaultTTL = 30 * time.Minute

// Credential is an opaque session value plus its provenance.
type Credential struct {
	Value      string
	Source     Source
	AcquiredAt time.Time
	TTL        time.Duration
}

// ExpiresAt returns the instant the memory tier stops serving the value.
func (c Credential) ExpiresAt() time.Time {
	return c.AcquiredAt.Add(c.TTL)
}

// FreshAt reports whether the value may still be served at now.
func (c Credential) FreshAt(now time.Time) bool {
	return c.Value != "" && now.Sub(c.AcquiredAt) < c.TTL
}

// Redacted returns a short fingerprint safe for logs.
func (c Credential) Redacted() string {
	return Redact(c.Value)
}

// Redact keeps the last four characters of a secret.
func Redact(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
