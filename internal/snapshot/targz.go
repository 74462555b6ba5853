package snapshot

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/gzip"

	"worldbackup/internal/fileutil"
	"worldbackup/internal/logging"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// writeTarGz streams the world into a pending file in the backup directory
// and atomically renames it to final. Entries are stored under the world name.
func (w *Writer) writeTarGz(ctx context.Context, final string) (int64, error) {
	pending, err := renameio.NewPendingFile(final,
		renameio.WithTempDir(filepath.Dir(final)),
		renameio.WithPermissions(0o644),
	)
	if err != nil {
		return 0, fmt.Errorf("create pending artifact: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			w.logger.Debug("cleanup pending artifact", logging.Error(err))
		}
	}()

	counter := &countingWriter{w: pending}
	gz, err := gzip.NewWriterLevel(counter, w.opts.CompressionLevel)
	if err != nil {
		return 0, fmt.Errorf("gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	prefix := w.opts.World
	err = w.walkWorld(ctx, func(rel, abs string, d fs.DirEntry) error {
		return w.addTarEntry(ctx, tw, prefix+"/"+rel, abs, d)
	})
	if err != nil {
		return 0, err
	}
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("finish gzip stream: %w", err)
	}
	if err := w.commitCheckpoint(ctx); err != nil {
		return 0, err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("commit artifact: %w", err)
	}
	if err := fileutil.SyncDir(filepath.Dir(final)); err != nil {
		w.logger.Debug("backup directory sync after commit failed", logging.Error(err))
	}
	return counter.n, nil
}

func (w *Writer) addTarEntry(ctx context.Context, tw *tar.Writer, name, abs string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	link := ""
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(abs); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("tar header %s: %w", name, err)
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	copied, err := io.CopyN(tw, fileutil.ContextReader{Ctx: ctx, R: f}, hdr.Size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s shrank during snapshot (%d of %d bytes)", name, copied, hdr.Size)
		}
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}
