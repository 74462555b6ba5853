package catalog

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"worldbackup/internal/faults"
)

// Entry is one directory listing element of the backup directory.
type Entry struct {
	Name      string
	IsDir     bool
	SizeBytes int64
	ModTime   time.Time
}

// IssueKind classifies what reconciliation found.
type IssueKind string

const (
	IssueAdoptedOrphan     IssueKind = "adopted_orphan"
	IssueMissingArtifact   IssueKind = "missing_artifact"
	IssueIncompleteRecord  IssueKind = "incomplete_record"
	IssueStaleTemp         IssueKind = "stale_temp"
	IssueUnrecognizedEntry IssueKind = "unrecognized_entry"
	IssueSizeRefreshed     IssueKind = "size_refreshed"
)

// Issue describes one inconsistency found and repaired (or ignored) during
// reconciliation.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	ID     string    `json:"id,omitempty"`
	Path   string    `json:"path"`
	Detail string    `json:"detail"`
}

// Err wraps the issue as a CatalogInconsistency error for logging.
func (i Issue) Err() error {
	return faults.Wrap(faults.ErrCatalogInconsistency, "catalog", string(i.Kind), i.Detail, nil)
}

// Result is the repaired catalog and everything that had to change.
type Result struct {
	// Records is the repaired set, newest first.
	Records []Record
	Issues  []Issue
	// Stale lists leftover temporary paths that are safe to delete.
	Stale []string
}

// Reconcile merges persisted metadata with a listing of dir. Presence on
// disk always wins: records without an artifact are dropped and artifacts
// without a record are adopted as Complete. Persisted metadata is only
// trusted for supplementary fields such as the recorded size. Two records
// resolving to the same identity or artifact is a fatal invariant violation.
func Reconcile(dir, world string, persisted []Record, listing []Entry) (Result, error) {
	var result Result

	artifacts := make(map[string]Entry, len(listing))
	names := make([]string, 0, len(listing))
	for _, entry := range listing {
		path := filepath.Join(dir, entry.Name)
		switch {
		case strings.HasPrefix(entry.Name, "."):
			if isCatalogFile(entry.Name) {
				continue
			}
			result.Stale = append(result.Stale, path)
			result.Issues = append(result.Issues, Issue{
				Kind:   IssueStaleTemp,
				Path:   path,
				Detail: "leftover temporary entry from an interrupted backup",
			})
		default:
			if _, _, _, ok := ParseArtifactName(entry.Name, entry.IsDir); !ok {
				result.Issues = append(result.Issues, Issue{
					Kind:   IssueUnrecognizedEntry,
					Path:   path,
					Detail: "entry does not look like a backup artifact; left untouched",
				})
				continue
			}
			artifacts[entry.Name] = entry
			names = append(names, entry.Name)
		}
	}

	claimed := make(map[string]string, len(persisted))
	for _, rec := range persisted {
		if rec.Status != StatusComplete {
			result.Issues = append(result.Issues, Issue{
				Kind:   IssueIncompleteRecord,
				ID:     rec.ID,
				Path:   rec.Path,
				Detail: fmt.Sprintf("dropped %s record", rec.Status),
			})
			continue
		}
		name := filepath.Base(rec.Path)
		entry, ok := artifacts[name]
		if !ok {
			result.Issues = append(result.Issues, Issue{
				Kind:   IssueMissingArtifact,
				ID:     rec.ID,
				Path:   rec.Path,
				Detail: "artifact no longer exists; record dropped",
			})
			continue
		}
		if owner, dup := claimed[name]; dup {
			return Result{}, faults.Wrap(faults.ErrCatalogInvariant, "catalog", "reconcile",
				fmt.Sprintf("records %s and %s both claim artifact %s", owner, rec.ID, name), nil)
		}
		claimed[name] = rec.ID

		id, created, format, _ := ParseArtifactName(name, entry.IsDir)
		repaired := rec
		repaired.World = world
		repaired.Path = filepath.Join(dir, name)
		repaired.Format = format
		if repaired.ID != id {
			repaired.ID = id
			repaired.CreatedAt = created
		}
		if repaired.SizeBytes <= 0 {
			repaired.SizeBytes = entry.SizeBytes
			result.Issues = append(result.Issues, Issue{
				Kind:   IssueSizeRefreshed,
				ID:     id,
				Path:   repaired.Path,
				Detail: "recorded size missing; measured from disk",
			})
		}
		result.Records = append(result.Records, repaired)
	}

	sort.Strings(names)
	for _, name := range names {
		if _, ok := claimed[name]; ok {
			continue
		}
		entry := artifacts[name]
		id, created, format, _ := ParseArtifactName(name, entry.IsDir)
		rec := Record{
			ID:        id,
			World:     world,
			Path:      filepath.Join(dir, name),
			SizeBytes: entry.SizeBytes,
			CreatedAt: created,
			Status:    StatusComplete,
			Format:    format,
		}
		result.Records = append(result.Records, rec)
		result.Issues = append(result.Issues, Issue{
			Kind:   IssueAdoptedOrphan,
			ID:     id,
			Path:   rec.Path,
			Detail: "untracked artifact adopted as complete",
		})
	}

	if err := checkInvariants(result.Records); err != nil {
		return Result{}, err
	}
	SortNewestFirst(result.Records)
	return result, nil
}

// SortNewestFirst orders records by creation time descending, ties broken by
// identity descending.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
}

func checkInvariants(records []Record) error {
	ids := make(map[string]struct{}, len(records))
	paths := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.Status != StatusComplete {
			return faults.Wrap(faults.ErrCatalogInvariant, "catalog", "invariant",
				fmt.Sprintf("record %s has status %s", rec.ID, rec.Status), nil)
		}
		if _, dup := ids[rec.ID]; dup {
			return faults.Wrap(faults.ErrCatalogInvariant, "catalog", "invariant",
				fmt.Sprintf("identity %s appears more than once", rec.ID), nil)
		}
		if _, dup := paths[rec.Path]; dup {
			return faults.Wrap(faults.ErrCatalogInvariant, "catalog", "invariant",
				fmt.Sprintf("artifact %s is claimed more than once", rec.Path), nil)
		}
		ids[rec.ID] = struct{}{}
		paths[rec.Path] = struct{}{}
	}
	return nil
}

func isCatalogFile(name string) bool {
	return name == catalogFileName || strings.HasPrefix(name, catalogFileName+"-")
}
