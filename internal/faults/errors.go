package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrServerUnresponsive marks quiesce or resume requests that were not
	// acknowledged in time, or were rejected by the server control driver.
	ErrServerUnresponsive = errors.New("server unresponsive")
	// ErrSnapshotIO marks failures while writing or committing an artifact,
	// including space exhaustion mid-write and cancellation.
	ErrSnapshotIO = errors.New("snapshot io error")
	// ErrDiskSpaceExhausted marks a failed pre-flight admission check.
	ErrDiskSpaceExhausted = errors.New("disk space exhausted")
	// ErrRetentionFloorConflict is a warning: the minimum-keep floor stopped
	// eviction before the free-space floor was reached.
	ErrRetentionFloorConflict = errors.New("retention floor conflict")
	// ErrCatalogInconsistency marks a mismatch that reconciliation repaired.
	ErrCatalogInconsistency = errors.New("catalog inconsistency")
	// ErrCatalogInvariant marks a corrupted catalog invariant. It is the only
	// fatal class: callers must stop rather than continue with the catalog.
	ErrCatalogInvariant = errors.New("catalog invariant violated")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrSnapshotIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether err must abort the process.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCatalogInvariant)
}

// Kind returns a short stable label for the first taxonomy marker found in err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCatalogInvariant):
		return "catalog_invariant"
	case errors.Is(err, ErrServerUnresponsive):
		return "server_unresponsive"
	case errors.Is(err, ErrDiskSpaceExhausted):
		return "disk_space_exhausted"
	case errors.Is(err, ErrSnapshotIO):
		return "snapshot_io"
	case errors.Is(err, ErrRetentionFloorConflict):
		return "retention_floor_conflict"
	case errors.Is(err, ErrCatalogInconsistency):
		return "catalog_inconsistency"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "backup failure"
	}
	return strings.Join(parts, ": ")
}
