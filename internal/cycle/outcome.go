package cycle

import (
	"time"

	"worldbackup/internal/catalog"
	"worldbackup/internal/faults"
	"worldbackup/internal/retention"
)

// Kind classifies a finished cycle.
type Kind string

const (
	Success                   Kind = "success"
	SkippedNoSpace            Kind = "skipped_no_space"
	SkippedServerUnresponsive Kind = "skipped_server_unresponsive"
	Failed                    Kind = "failed"
)

// Skipped reports whether the cycle ended before anything was written.
func (k Kind) Skipped() bool {
	return k == SkippedNoSpace || k == SkippedServerUnresponsive
}

// Outcome is the single result every cycle produces.
type Outcome struct {
	ID     string          `json:"id"`
	World  string          `json:"world"`
	Kind   Kind            `json:"kind"`
	Record *catalog.Record `json:"record,omitempty"`
	// Err is the cause for skipped and failed cycles.
	Err           error                `json:"-"`
	Reason        string               `json:"reason,omitempty"`
	Warnings      []string             `json:"warnings,omitempty"`
	Evicted       []retention.Deletion `json:"evicted,omitempty"`
	FloorConflict bool                 `json:"floor_conflict"`
	// FloorBytes is the free-space floor the last eviction pass worked
	// against. Make-room raises it above the configured floor.
	FloorBytes   int64     `json:"floor_bytes,omitempty"`
	FreeBytes    int64     `json:"free_bytes"`
	WorldBytes   int64     `json:"world_bytes"`
	CatalogCount int       `json:"catalog_count"`
	CatalogBytes int64     `json:"catalog_bytes"`
	Started      time.Time `json:"started"`
	Finished     time.Time `json:"finished"`
}

// Duration is the wall-clock time the cycle took.
func (o Outcome) Duration() time.Duration {
	if o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// Fatal reports whether the outcome carries a catalog invariant violation
// that must stop the process.
func (o Outcome) Fatal() bool {
	return faults.IsFatal(o.Err)
}
