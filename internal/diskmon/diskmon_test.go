package diskmon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"worldbackup/internal/diskmon"
	"worldbackup/internal/faults"
)

const gib = int64(1) << 30

func fixedFree(free int64) diskmon.StatFunc {
	return func(string) (diskmon.Usage, error) {
		return diskmon.Usage{TotalBytes: uint64(100 * gib), FreeBytes: uint64(free)}, nil
	}
}

func TestAdmitRule(t *testing.T) {
	cases := []struct {
		name     string
		free     int64
		expected int64
		margin   int64
		allowed  bool
	}{
		{"world 2GiB free 2.5GiB margin 1GiB", 5 * gib / 2, 2 * gib, gib, false},
		{"world 2GiB free 10GiB margin 1GiB", 10 * gib, 2 * gib, gib, true},
		{"free exactly expected plus margin", 3 * gib, 2 * gib, gib, true},
		{"one byte short", 3*gib - 1, 2 * gib, gib, false},
		{"zero margin", 2 * gib, 2 * gib, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mon := diskmon.New("/backups", tc.margin, diskmon.WithStatFunc(fixedFree(tc.free)))
			adm, err := mon.Admit(context.Background(), tc.expected)
			if err != nil {
				t.Fatalf("Admit returned error: %v", err)
			}
			if adm.Allowed != tc.allowed {
				t.Fatalf("Allowed = %v, want %v (%+v)", adm.Allowed, tc.allowed, adm)
			}
			if tc.allowed {
				if adm.Err() != nil || adm.Shortfall() != 0 {
					t.Fatalf("unexpected rejection details: %v %d", adm.Err(), adm.Shortfall())
				}
				return
			}
			if !errors.Is(adm.Err(), faults.ErrDiskSpaceExhausted) {
				t.Fatalf("expected ErrDiskSpaceExhausted, got %v", adm.Err())
			}
			if want := tc.expected + tc.margin - tc.free; adm.Shortfall() != want {
				t.Fatalf("Shortfall = %d, want %d", adm.Shortfall(), want)
			}
		})
	}
}

func TestStatErrorsPropagate(t *testing.T) {
	boom := errors.New("stale file handle")
	mon := diskmon.New("/backups", 0, diskmon.WithStatFunc(func(string) (diskmon.Usage, error) {
		return diskmon.Usage{}, boom
	}))
	if _, err := mon.Admit(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("expected stat error, got %v", err)
	}
}

func TestStatfsReportsRealVolume(t *testing.T) {
	mon := diskmon.New(t.TempDir(), 0)
	usage, err := mon.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage returned error: %v", err)
	}
	if usage.TotalBytes == 0 || usage.FreeBytes > usage.TotalBytes {
		t.Fatalf("implausible usage: %+v", usage)
	}
}

func TestDirSizeCountsFilesWithoutFollowingLinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "big.bin"), make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write outside: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "region"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "level.dat"), make([]byte, 100), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "region", "r.0.0.mca"), make([]byte, 900), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	target := outside
	if err := os.Symlink(target, filepath.Join(root, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	size, err := diskmon.DirSize(context.Background(), root)
	if err != nil {
		t.Fatalf("DirSize returned error: %v", err)
	}
	want := int64(100 + 900 + len(target))
	if size != want {
		t.Fatalf("DirSize = %d, want %d", size, want)
	}
}

func TestDirSizeHonorsCancellation(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := diskmon.DirSize(ctx, root); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
