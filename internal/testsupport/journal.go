package testsupport

import (
	"testing"

	"cutline/internal/config"
	"cutline/internal/journal"
)

// MustOpenJournal opens the incident journal for tests and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.OpenFromConfig(cfg)
	if err != nil {
		t.Fatalf("journal.OpenFromConfig: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
