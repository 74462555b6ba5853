package fileutil

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileSync(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "level.dat")
	dst := filepath.Join(dir, "copy.dat")

	content := bytes.Repeat([]byte("chunk"), 10_000)
	if err := os.WriteFile(src, content, 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := CopyFileSync(context.Background(), src, dst, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(content)) {
		t.Fatalf("copied %d bytes, want %d", n, len(content))
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("content mismatch")
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}

	if _, err := CopyFileSync(context.Background(), src, dst, 0o600); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected existing destination to be rejected, got %v", err)
	}
}

func TestCopyFileSyncCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CopyFileSync(ctx, src, filepath.Join(dir, "dst"), 0o644); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTreeSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 32), 0o644); err != nil {
		t.Fatal(err)
	}
	size, err := TreeSize(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if size != 42 {
		t.Fatalf("TreeSize = %d, want 42", size)
	}
	single, err := TreeSize(context.Background(), filepath.Join(dir, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if single != 10 {
		t.Fatalf("TreeSize(file) = %d, want 10", single)
	}
	if err := SyncDir(dir); err != nil {
		t.Fatalf("SyncDir: %v", err)
	}
}
