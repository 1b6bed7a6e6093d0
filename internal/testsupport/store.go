package testsupport

import (
	"testing"

	"clipweave/internal/config"
	"clipweave/internal/runstore"
)

// MustOpenRunStore opens the run ledger for tests and registers cleanup.
func MustOpenRunStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg.RunDBPath())
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
