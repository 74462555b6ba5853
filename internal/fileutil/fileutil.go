package fileutil

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ContextReader aborts reads once ctx is cancelled, so long copies stop at
// the next buffer boundary.
type ContextReader struct {
	Ctx context.Context
	R   io.Reader
}

func (r ContextReader) Read(p []byte) (int, error) {
	if err := r.Ctx.Err(); err != nil {
		return 0, err
	}
	return r.R.Read(p)
}

// CopyFileSync streams src to a new file dst with the given mode and fsyncs
// it before returning. dst must not exist.
func CopyFileSync(ctx context.Context, src, dst string, mode os.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode.Perm())
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, ContextReader{Ctx: ctx, R: in})
	if err != nil {
		_ = out.Close()
		return written, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return written, fmt.Errorf("sync %s: %w", dst, err)
	}
	return written, out.Close()
}

// SyncDir fsyncs a directory so renames and creations inside it are durable.
func SyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

// TreeSize returns the apparent size of path: the file size for a regular
// file, the sum of regular files and symlinks for a directory. Symlinks are
// never followed.
func TreeSize(ctx context.Context, path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
