package catalog

import (
	"strings"
	"time"
)

// Status tracks the lifecycle of a backup record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Artifact formats.
const (
	FormatTarGz     = "tar.gz"
	FormatDirectory = "directory"
)

// IDLayout is the timestamp layout used for backup identities and artifact
// names. Identities are always rendered in UTC.
const IDLayout = "2006-01-02_15-04-05"

const tarGzSuffix = ".tar.gz"

// Record describes one backup artifact.
type Record struct {
	ID        string    `json:"id"`
	World     string    `json:"world"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
	Format    string    `json:"format"`
}

// Age returns how old the record is relative to now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// FormatID renders the identity for a creation time.
func FormatID(t time.Time) string {
	return t.UTC().Format(IDLayout)
}

// ParseID converts an identity back to its creation time.
func ParseID(id string) (time.Time, bool) {
	t, err := time.ParseInLocation(IDLayout, id, time.UTC)
	if err != nil || t.Format(IDLayout) != id {
		return time.Time{}, false
	}
	return t, true
}

// ArtifactName returns the on-disk name for an identity and format.
func ArtifactName(id, format string) string {
	if format == FormatDirectory {
		return id
	}
	return id + tarGzSuffix
}

// ParseArtifactName recovers identity, creation time, and format from an
// artifact name. isDir reports whether the entry is a directory; tarballs must
// be files and directory artifacts must be directories.
func ParseArtifactName(name string, isDir bool) (id string, created time.Time, format string, ok bool) {
	if isDir {
		id, format = name, FormatDirectory
	} else {
		if !strings.HasSuffix(name, tarGzSuffix) {
			return "", time.Time{}, "", false
		}
		id, format = strings.TrimSuffix(name, tarGzSuffix), FormatTarGz
	}
	created, ok = ParseID(id)
	if !ok {
		return "", time.Time{}, "", false
	}
	return id, created, format, true
}

// NextID returns the identity for a backup created at now, bumped past
// latest so identities stay strictly increasing even when the clock repeats
// a second or moves backwards.
func NextID(now time.Time, latest string) (string, time.Time) {
	created := now.UTC().Truncate(time.Second)
	if prev, ok := ParseID(latest); ok && !created.After(prev) {
		created = prev.Add(time.Second)
	}
	return FormatID(created), created
}
