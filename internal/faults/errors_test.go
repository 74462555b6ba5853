package faults_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"worldbackup/internal/faults"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("no space left on device")
	err := faults.Wrap(faults.ErrSnapshotIO, "snapshot", "write", "copy region files", base)
	if !errors.Is(err, faults.ErrSnapshotIO) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"snapshot", "write", "copy region files", "no space left"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutCauseOrDetail(t *testing.T) {
	err := faults.Wrap(nil, " ", "", "", nil)
	if !errors.Is(err, faults.ErrSnapshotIO) {
		t.Fatalf("expected default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "backup failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestWrapKeepsCancellation(t *testing.T) {
	err := faults.Wrap(faults.ErrSnapshotIO, "snapshot", "write", "", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestIsFatalAndKind(t *testing.T) {
	fatal := faults.Wrap(faults.ErrCatalogInvariant, "catalog", "reconcile", "duplicate path", nil)
	if !faults.IsFatal(fatal) {
		t.Fatal("expected catalog invariant to be fatal")
	}
	if faults.Kind(fatal) != "catalog_invariant" {
		t.Fatalf("unexpected kind %q", faults.Kind(fatal))
	}

	for marker, kind := range map[error]string{
		faults.ErrServerUnresponsive:     "server_unresponsive",
		faults.ErrSnapshotIO:             "snapshot_io",
		faults.ErrDiskSpaceExhausted:     "disk_space_exhausted",
		faults.ErrRetentionFloorConflict: "retention_floor_conflict",
		faults.ErrCatalogInconsistency:   "catalog_inconsistency",
	} {
		err := faults.Wrap(marker, "c", "op", "", nil)
		if faults.IsFatal(err) {
			t.Fatalf("%v must not be fatal", marker)
		}
		if got := faults.Kind(err); got != kind {
			t.Fatalf("Kind(%v) = %q, want %q", marker, got, kind)
		}
	}
	if faults.Kind(nil) != "" {
		t.Fatal("expected empty kind for nil")
	}
	if faults.Kind(errors.New("x")) != "unknown" {
		t.Fatal("expected unknown kind for untagged error")
	}
}
