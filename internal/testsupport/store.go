package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"vak/internal/runs"
)

// MustOpenStore opens a runs.Store in a temporary results root and registers
// cleanup.
func MustOpenStore(t testing.TB) *runs.Store {
	t.Helper()

	store, err := runs.OpenRoot(filepath.Join(t.TempDir(), "results"))
	if err != nil {
		t.Fatalf("runs.OpenRoot: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun records a running run for tests using the provided store.
func NewRun(t testing.TB, store *runs.Store, command string) *runs.Run {
	t.Helper()

	run, err := store.Create(context.Background(), command, "/tmp/config.toml", "", "TweetyNet")
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return run
}
