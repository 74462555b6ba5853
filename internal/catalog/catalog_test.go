package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"worldbackup/internal/catalog"
	"worldbackup/internal/faults"
	"worldbackup/internal/logging"
	"worldbackup/internal/testsupport"
)

func openCatalog(t *testing.T, dir string) (*catalog.Catalog, []catalog.Issue) {
	t.Helper()
	cat, issues, err := catalog.Open(context.Background(), catalog.Options{
		Dir:    dir,
		World:  "world",
		Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })
	return cat, issues
}

func TestOpenAdoptsOrphansAndRemovesStaleTemps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "world")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	testsupport.WriteArtifact(t, dir, "world", base, 1024)
	testsupport.WriteArtifact(t, dir, "world", base.Add(time.Hour), 2048)
	partial := filepath.Join(dir, ".partial-2024-05-01_02-00-00")
	testsupport.WriteFile(t, filepath.Join(partial, "level.dat"), 10)

	cat, issues := openCatalog(t, dir)

	records := cat.List()
	if len(records) != 2 {
		t.Fatalf("expected 2 adopted records, got %d", len(records))
	}
	if records[0].ID != "2024-05-01_01-00-00" || records[0].SizeBytes != 2048 {
		t.Fatalf("unexpected newest record: %+v", records[0])
	}
	if cat.TotalBytes() != 3072 {
		t.Fatalf("unexpected total bytes: %d", cat.TotalBytes())
	}
	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Fatalf("expected stale partial removed, stat err=%v", err)
	}
	adopted := 0
	for _, issue := range issues {
		if issue.Kind == catalog.IssueAdoptedOrphan {
			adopted++
		}
	}
	if adopted != 2 {
		t.Fatalf("expected 2 adopted issues, got %+v", issues)
	}
}

func TestCatalogPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "world")
	ctx := context.Background()

	cat, _, err := catalog.Open(ctx, catalog.Options{Dir: dir, World: "world"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	record := testsupport.WriteArtifact(t, dir, "world", created, 4096)
	record.SizeBytes = 9999
	if err := cat.Append(ctx, record); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := cat.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, issues := openCatalog(t, dir)
	if len(issues) != 0 {
		t.Fatalf("expected clean reopen, got %+v", issues)
	}
	latest, ok := reopened.Latest()
	if !ok {
		t.Fatal("expected a latest record")
	}
	if latest.ID != record.ID || latest.SizeBytes != 9999 {
		t.Fatalf("persisted metadata not preserved: %+v", latest)
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestAppendRejectsInvalidRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "world")
	ctx := context.Background()
	cat, _ := openCatalog(t, dir)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	record := testsupport.WriteArtifact(t, dir, "world", created, 10)
	if err := cat.Append(ctx, record); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := cat.Append(ctx, record); !errors.Is(err, faults.ErrCatalogInvariant) {
		t.Fatalf("expected duplicate append to violate invariant, got %v", err)
	}

	pending := record
	pending.ID = "2024-05-01_13-00-00"
	pending.Status = catalog.StatusPending
	if err := cat.Append(ctx, pending); err == nil || !strings.Contains(err.Error(), "not complete") {
		t.Fatalf("expected pending append to fail, got %v", err)
	}

	missing := record
	missing.ID = "2024-05-01_14-00-00"
	missing.Path = filepath.Join(dir, "2024-05-01_14-00-00.tar.gz")
	if err := cat.Append(ctx, missing); !errors.Is(err, faults.ErrCatalogInconsistency) {
		t.Fatalf("expected missing artifact to fail, got %v", err)
	}

	if len(cat.List()) != 1 {
		t.Fatalf("rejected appends must not change the catalog: %+v", cat.List())
	}
}

func TestRemoveDeletesArtifactAndRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "world")
	ctx := context.Background()
	cat, _ := openCatalog(t, dir)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	older := testsupport.WriteArtifact(t, dir, "world", base, 10)
	newer := testsupport.WriteArtifact(t, dir, "world", base.Add(time.Hour), 20)
	for _, r := range []catalog.Record{older, newer} {
		if err := cat.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	removed, err := cat.Remove(ctx, older.ID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.ID != older.ID {
		t.Fatalf("unexpected removed record: %+v", removed)
	}
	if _, err := os.Stat(older.Path); !os.IsNotExist(err) {
		t.Fatalf("artifact should be gone, stat err=%v", err)
	}
	records := cat.List()
	if len(records) != 1 || records[0].ID != newer.ID {
		t.Fatalf("unexpected records after remove: %+v", records)
	}
	if _, err := cat.Remove(ctx, older.ID); err == nil {
		t.Fatal("expected error removing unknown id")
	}
}

func TestVerifyReportsMissingArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "world")
	ctx := context.Background()
	cat, _ := openCatalog(t, dir)

	record := testsupport.WriteArtifact(t, dir, "world", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 10)
	if err := cat.Append(ctx, record); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := os.Remove(record.Path); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}
	if err := cat.Verify(); !errors.Is(err, faults.ErrCatalogInconsistency) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
}

func TestOpenStoreRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	store, err := catalog.OpenStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := store.SetSchemaVersionForTest(ctx, 99); err != nil {
		t.Fatalf("bump schema version: %v", err)
	}
	_ = store.Close()

	_, err = catalog.OpenStore(ctx, path)
	if !errors.Is(err, catalog.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
