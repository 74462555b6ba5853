package testsupport

import (
	"context"
	"testing"

	"worldbackup/internal/catalog"
	"worldbackup/internal/config"
	"worldbackup/internal/logging"
)

// MustOpenCatalog opens the catalog for cfg's world and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Catalog {
	t.Helper()
	cat, _, err := catalog.Open(context.Background(), catalog.Options{
		Dir:    cfg.WorldBackupDir(),
		World:  cfg.Paths.WorldName,
		Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = cat.Close()
	})
	return cat
}
