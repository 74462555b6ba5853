package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"worldbackup/internal/faults"
	"worldbackup/internal/fileutil"
	"worldbackup/internal/logging"
)

const catalogFileName = ".catalog.db"

// Options configures Open.
type Options struct {
	// Dir is the per-world backup directory holding artifacts and metadata.
	Dir    string
	World  string
	Logger *slog.Logger
}

// Catalog is the durable, reconciled set of Complete backups for one world.
type Catalog struct {
	mu      sync.RWMutex
	dir     string
	world   string
	store   *Store
	records []Record
	logger  *slog.Logger
}

// Open loads persisted metadata, reconciles it against the backup directory,
// deletes stale temporaries, and persists the repaired set. The returned
// issues describe every repair; a fatal invariant violation is returned as an
// ErrCatalogInvariant error.
func Open(ctx context.Context, opts Options) (*Catalog, []Issue, error) {
	if opts.Dir == "" {
		return nil, nil, errors.New("catalog: backup directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("catalog: create backup directory: %w", err)
	}
	logger := logging.NewComponentLogger(opts.Logger, "catalog")

	store, err := OpenStore(ctx, filepath.Join(opts.Dir, catalogFileName))
	if err != nil {
		return nil, nil, err
	}
	persisted, err := store.List(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	listing, err := Scan(ctx, opts.Dir)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	result, err := Reconcile(opts.Dir, opts.World, persisted, listing)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	for _, path := range result.Stale {
		if err := os.RemoveAll(path); err != nil {
			logging.WarnWithContext(logger, "stale temporary entry could not be removed", "catalog_stale_remove_failed",
				logging.String("stale_path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the entry manually"),
				logging.String(logging.FieldImpact, "disk space stays in use"),
			)
		}
	}
	if err := store.ReplaceAll(ctx, result.Records); err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	for _, issue := range result.Issues {
		logging.WarnWithContext(logger, "catalog repaired", "catalog_inconsistency",
			logging.String("issue", string(issue.Kind)),
			logging.String(logging.FieldBackupID, issue.ID),
			logging.String("artifact_path", issue.Path),
			logging.String("reason", issue.Detail),
			logging.String(logging.FieldImpact, "catalog now matches the backup directory"),
		)
	}
	logger.Info("catalog opened",
		logging.String(logging.FieldWorld, opts.World),
		logging.Int("backups", len(result.Records)),
		logging.Int("issues", len(result.Issues)),
	)

	return &Catalog{
		dir:     opts.Dir,
		world:   opts.World,
		store:   store,
		records: result.Records,
		logger:  logger,
	}, result.Issues, nil
}

// Scan lists the backup directory. Directory artifacts are measured so
// adopted orphans get a real size.
func Scan(ctx context.Context, dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: scan %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("catalog: stat %s: %w", de.Name(), err)
		}
		entry := Entry{Name: de.Name(), IsDir: info.IsDir(), SizeBytes: info.Size(), ModTime: info.ModTime()}
		if entry.IsDir && entry.Name[0] != '.' {
			if _, _, _, ok := ParseArtifactName(entry.Name, true); ok {
				size, err := fileutil.TreeSize(ctx, filepath.Join(dir, entry.Name))
				if err != nil {
					return nil, fmt.Errorf("catalog: measure %s: %w", entry.Name, err)
				}
				entry.SizeBytes = size
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Dir returns the per-world backup directory.
func (c *Catalog) Dir() string { return c.dir }

// World returns the world name this catalog tracks.
func (c *Catalog) World() string { return c.world }

// List returns a copy of the records, newest first.
func (c *Catalog) List() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Latest returns the newest record.
func (c *Catalog) Latest() (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.records) == 0 {
		return Record{}, false
	}
	return c.records[0], true
}

// TotalBytes sums the recorded sizes of every backup.
func (c *Catalog) TotalBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, rec := range c.records {
		total += rec.SizeBytes
	}
	return total
}

// Append registers a Complete record whose artifact is already in place.
func (c *Catalog) Append(ctx context.Context, rec Record) error {
	if rec.Status != StatusComplete {
		return fmt.Errorf("catalog: append %s: status %s is not complete", rec.ID, rec.Status)
	}
	if _, err := os.Lstat(rec.Path); err != nil {
		return faults.Wrap(faults.ErrCatalogInconsistency, "catalog", "append",
			fmt.Sprintf("artifact for %s is not readable", rec.ID), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.records {
		if existing.ID == rec.ID || existing.Path == rec.Path {
			return faults.Wrap(faults.ErrCatalogInvariant, "catalog", "append",
				fmt.Sprintf("backup %s collides with existing %s", rec.ID, existing.ID), nil)
		}
	}
	if err := c.store.Insert(ctx, rec); err != nil {
		return err
	}
	c.records = append(c.records, rec)
	SortNewestFirst(c.records)
	return nil
}

// Remove deletes the artifact and then the record. A crash between the two
// leaves a record without an artifact, which the next Open drops.
func (c *Catalog) Remove(ctx context.Context, id string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i, rec := range c.records {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Record{}, fmt.Errorf("catalog: backup %s not found", id)
	}
	rec := c.records[idx]
	if err := os.RemoveAll(rec.Path); err != nil {
		return Record{}, fmt.Errorf("catalog: delete artifact %s: %w", rec.Path, err)
	}
	if err := fileutil.SyncDir(c.dir); err != nil {
		c.logger.Debug("directory sync after delete failed", logging.Error(err))
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return Record{}, err
	}
	c.records = append(c.records[:idx:idx], c.records[idx+1:]...)
	return rec, nil
}

// Verify checks that every record still has its artifact and that the
// identity and path invariants hold.
func (c *Catalog) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := checkInvariants(c.records); err != nil {
		return err
	}
	var missing []error
	for _, rec := range c.records {
		if _, err := os.Lstat(rec.Path); err != nil {
			missing = append(missing, fmt.Errorf("%s: %w", rec.ID, err))
		}
	}
	if len(missing) > 0 {
		return faults.Wrap(faults.ErrCatalogInconsistency, "catalog", "verify",
			fmt.Sprintf("%d artifacts missing", len(missing)), errors.Join(missing...))
	}
	return nil
}

// Close releases the metadata store.
func (c *Catalog) Close() error {
	if c == nil {
		return nil
	}
	return c.store.Close()
}
