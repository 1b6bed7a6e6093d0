package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"clipweave/internal/config"
	"clipweave/internal/credential"
	"clipweave/internal/deps"
	"clipweave/internal/provider"
	"clipweave/internal/provider/httpapi"
)

const providerCheckTimeout = 5 * time.Second

// CheckProvider verifies the provider answers its session endpoint. A rejected
// credential still proves reachability, so only transport failures and
// server errors fail the check.
func CheckProvider(ctx context.Context, cfg *config.Config, credentialValue string) Result {
	const name = "Provider"

	client, err := httpapi.New(httpapi.Config{
		BaseURL:        cfg.Provider.BaseURL,
		UserAgent:      cfg.Provider.UserAgent,
		TimeoutSeconds: int(providerCheckTimeout / time.Second),
	})
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, providerCheckTimeout)
	defer cancel()

	err = client.Validate(checkCtx, credentialValue)
	switch {
	case err == nil:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (session accepted)", cfg.Provider.BaseURL)}
	case provider.IsAuth(err):
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable, session not accepted)", cfg.Provider.BaseURL)}
	default:
		return Result{Name: name, Detail: summarizeProviderError(cfg.Provider.BaseURL, err)}
	}
}

// CheckCredentialStore reports the age of the persisted credential.
func CheckCredentialStore(ctx context.Context, path string, ttl time.Duration, now time.Time) Result {
	const name = "Credential store"

	rec, ok, err := credential.NewFileStore(path).Load(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if !ok {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (empty, first run acquires live)", path)}
	}
	age := now.Sub(rec.AcquiredAt).Round(time.Second)
	cred := credential.Credential{Value: rec.Value, AcquiredAt: rec.AcquiredAt, TTL: ttl}
	state := "stale"
	if cred.FreshAt(now) {
		state = "fresh"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s, %s old, %s)", path, cred.Redacted(), age, state)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries for the given config.
// Both the pipeline and the doctor command use this list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return []deps.Status{
		deps.CheckFFmpeg(ctx, cfg.FFmpegBinary()),
		deps.CheckHarvester(cfg.Credential.LiveCommand),
	}
}

func summarizeProviderError(base string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s (timed out)", base)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s (unreachable: timeout)", base)
	}
	return fmt.Sprintf("%s (%v)", base, err)
}
