package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"worldbackup/internal/fileutil"
	"worldbackup/internal/logging"
)

// writeDirectory copies the world into .partial-<id>, fsyncs everything,
// and renames the tree to final.
func (w *Writer) writeDirectory(ctx context.Context, id, final string) (size int64, err error) {
	tmp := filepath.Join(w.opts.BackupDir, partialPrefix+id)
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return 0, fmt.Errorf("create partial directory: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			w.logger.Warn("partial snapshot could not be removed",
				logging.String("partial_path", tmp),
				logging.Error(rmErr),
				logging.String(logging.FieldEventType, "snapshot_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "remove the directory manually; the next start also removes it"),
				logging.String(logging.FieldImpact, "disk space stays in use"),
			)
		}
	}()

	dirs := []string{tmp}
	err = w.walkWorld(ctx, func(rel, abs string, d fs.DirEntry) error {
		target := filepath.Join(tmp, filepath.FromSlash(rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			if err := os.Mkdir(target, info.Mode().Perm()|0o700); err != nil {
				return err
			}
			dirs = append(dirs, target)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(abs)
			if err != nil {
				return err
			}
			if err := os.Symlink(link, target); err != nil {
				return err
			}
		default:
			n, err := fileutil.CopyFileSync(ctx, abs, target, info.Mode())
			if err != nil {
				return fmt.Errorf("copy %s: %w", rel, err)
			}
			size += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := fileutil.SyncDir(dirs[i]); err != nil {
			return 0, err
		}
	}
	if err := w.commitCheckpoint(ctx); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, final); err != nil {
		return 0, fmt.Errorf("commit artifact: %w", err)
	}
	committed = true
	if err := fileutil.SyncDir(w.opts.BackupDir); err != nil {
		w.logger.Debug("backup directory sync after commit failed", logging.Error(err))
	}
	if measured, err := fileutil.TreeSize(context.WithoutCancel(ctx), final); err == nil {
		size = measured
	}
	return size, nil
}
