package testsupport

import (
	"path/filepath"
	"testing"

	"lectern/internal/resultcache"
)

// MustOpenCache opens a resultcache.Store in a temp directory and registers cleanup.
func MustOpenCache(t testing.TB) *resultcache.Store {
	t.Helper()

	store, err := resultcache.OpenPath(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("resultcache.OpenPath: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
