package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"worldbackup/internal/catalog"
	"worldbackup/internal/faults"
	"worldbackup/internal/logging"
)

const partialPrefix = ".partial-"

// Options describes what to copy and where artifacts go.
type Options struct {
	WorldDir string
	// BackupDir is the per-world directory that receives artifacts.
	BackupDir        string
	World            string
	Format           string
	CompressionLevel int
	// Exclude holds glob patterns matched against world-relative slash paths
	// and against base names.
	Exclude []string
}

// Writer produces one artifact per call. It is not safe for concurrent use;
// callers serialize writes with eviction.
type Writer struct {
	opts   Options
	logger *slog.Logger

	beforeCommit func() error
}

// New builds a writer.
func New(opts Options, logger *slog.Logger) *Writer {
	if opts.Format == "" {
		opts.Format = catalog.FormatTarGz
	}
	return &Writer{opts: opts, logger: logging.NewComponentLogger(logger, "snapshot")}
}

// Format returns the artifact format this writer produces.
func (w *Writer) Format() string { return w.opts.Format }

// Write copies the world into a new artifact named after id. The artifact
// only appears at its final path once every byte is durable. On failure or
// cancellation the temporary path is removed and an ErrSnapshotIO error is
// returned; cancellation keeps the context error in the chain.
func (w *Writer) Write(ctx context.Context, id string, created time.Time) (catalog.Record, error) {
	rec := catalog.Record{
		ID:        id,
		World:     w.opts.World,
		Path:      filepath.Join(w.opts.BackupDir, catalog.ArtifactName(id, w.opts.Format)),
		CreatedAt: created.UTC(),
		Status:    catalog.StatusPending,
		Format:    w.opts.Format,
	}
	if _, err := os.Lstat(rec.Path); err == nil {
		return rec, faults.Wrap(faults.ErrSnapshotIO, "snapshot", "write",
			fmt.Sprintf("artifact %s already exists", rec.Path), fs.ErrExist)
	}
	if err := os.MkdirAll(w.opts.BackupDir, 0o755); err != nil {
		return rec, faults.Wrap(faults.ErrSnapshotIO, "snapshot", "write", "create backup directory", err)
	}

	start := time.Now()
	var (
		size int64
		err  error
	)
	switch w.opts.Format {
	case catalog.FormatTarGz:
		size, err = w.writeTarGz(ctx, rec.Path)
	case catalog.FormatDirectory:
		size, err = w.writeDirectory(ctx, id, rec.Path)
	default:
		err = fmt.Errorf("unsupported format %q", w.opts.Format)
	}
	if err != nil {
		rec.Status = catalog.StatusFailed
		message := "write artifact"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			message = "write cancelled"
		}
		return rec, faults.Wrap(faults.ErrSnapshotIO, "snapshot", "write", message, err)
	}

	rec.SizeBytes = size
	rec.Status = catalog.StatusComplete
	w.logger.Info("snapshot committed",
		logging.String(logging.FieldBackupID, id),
		logging.String("artifact_path", rec.Path),
		logging.Int64("artifact_bytes", size),
		logging.Duration("duration", time.Since(start)),
	)
	return rec, nil
}

func (w *Writer) commitCheckpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.beforeCommit != nil {
		return w.beforeCommit()
	}
	return nil
}

// entryFunc receives each world entry that survives the exclusion rules.
type entryFunc func(rel, abs string, d fs.DirEntry) error

// walkWorld visits the world tree in lexical order. Cancellation is checked
// between entries.
func (w *Writer) walkWorld(ctx context.Context, fn entryFunc) error {
	root := w.opts.WorldDir
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat world: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("world path %s is not a directory", root)
	}
	return filepath.WalkDir(root, func(abs string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if abs == root {
			return nil
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if w.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		switch {
		case d.IsDir(), d.Type().IsRegular(), d.Type()&fs.ModeSymlink != 0:
			return fn(rel, abs, d)
		default:
			w.logger.Debug("skipping special file", logging.String("entry", rel))
			return nil
		}
	})
}

func (w *Writer) excluded(rel string) bool {
	base := path.Base(rel)
	for _, pattern := range w.opts.Exclude {
		pattern = strings.TrimSuffix(pattern, "/")
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := path.Match(pattern, base); ok {
				return true
			}
		}
	}
	return false
}
