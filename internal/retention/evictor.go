package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"worldbackup/internal/catalog"
	"worldbackup/internal/faults"
	"worldbackup/internal/logging"
)

// Catalog is the subset of the backup catalog the evictor needs.
type Catalog interface {
	List() []catalog.Record
	Remove(ctx context.Context, id string) (catalog.Record, error)
}

// FreeSpace reports free bytes on the backup volume.
type FreeSpace interface {
	FreeBytes(ctx context.Context) (int64, error)
}

// Result summarizes an enforcement run.
type Result struct {
	Deleted       []Deletion `json:"deleted"`
	FreeBytes     int64      `json:"free_bytes"`
	FloorConflict bool       `json:"floor_conflict"`
	// Floor is the free-space floor that was in force.
	Floor int64 `json:"floor"`
}

// FreedBytes sums the recorded sizes of deleted backups.
func (r Result) FreedBytes() int64 {
	var total int64
	for _, d := range r.Deleted {
		total += d.Record.SizeBytes
	}
	return total
}

// Warning returns an ErrRetentionFloorConflict error when the minimum-keep
// floor prevented reaching the free-space floor. It is not a failure.
func (r Result) Warning() error {
	if !r.FloorConflict {
		return nil
	}
	return faults.Wrap(faults.ErrRetentionFloorConflict, "retention", "enforce",
		fmt.Sprintf("free space %s is below floor %s at the minimum-keep floor",
			humanize.IBytes(uint64(max(r.FreeBytes, 0))), humanize.IBytes(uint64(max(r.Floor, 0)))), nil)
}

// Evictor applies a Policy by deleting through the catalog.
type Evictor struct {
	catalog Catalog
	disk    FreeSpace
	policy  Policy
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes an Evictor.
type Option func(*Evictor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evictor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvictor builds an evictor.
func NewEvictor(cat Catalog, disk FreeSpace, policy Policy, logger *slog.Logger, opts ...Option) *Evictor {
	e := &Evictor{
		catalog: cat,
		disk:    disk,
		policy:  policy,
		now:     time.Now,
		logger:  logging.NewComponentLogger(logger, "retention"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the configured policy.
func (e *Evictor) Policy() Policy { return e.policy }

// Preview evaluates the policy without deleting anything.
func (e *Evictor) Preview(ctx context.Context) (Plan, error) {
	free, err := e.disk.FreeBytes(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("retention: read free space: %w", err)
	}
	return Evaluate(e.catalog.List(), e.policy, e.now(), free), nil
}

// Enforce deletes what the policy selects, then re-reads actual free space
// and re-plans until nothing more is selected. Running it again without new
// backups deletes nothing.
func (e *Evictor) Enforce(ctx context.Context) (Result, error) {
	return e.enforce(ctx, e.policy)
}

// MakeRoom evicts oldest backups until need bytes are free, honoring the
// same bounds as Enforce. The result reports a floor conflict when the
// minimum-keep floor prevents it.
func (e *Evictor) MakeRoom(ctx context.Context, need int64) (Result, error) {
	policy := e.policy
	policy.FreeFloor = max(policy.FreeFloor, need)
	return e.enforce(ctx, policy)
}

func (e *Evictor) enforce(ctx context.Context, policy Policy) (Result, error) {
	now := e.now()
	result := Result{Floor: policy.FreeFloor}
	for {
		free, err := e.disk.FreeBytes(ctx)
		if err != nil {
			return result, fmt.Errorf("retention: read free space: %w", err)
		}
		result.FreeBytes = free
		plan := Evaluate(e.catalog.List(), policy, now, free)
		result.FloorConflict = plan.FloorConflict
		if len(plan.Delete) == 0 {
			break
		}
		for _, deletion := range plan.Delete {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if _, err := e.catalog.Remove(ctx, deletion.Record.ID); err != nil {
				return result, fmt.Errorf("retention: evict %s: %w", deletion.Record.ID, err)
			}
			result.Deleted = append(result.Deleted, deletion)
			e.logger.Info("backup evicted",
				logging.String(logging.FieldBackupID, deletion.Record.ID),
				logging.String("reason", string(deletion.Reason)),
				logging.Int64("artifact_bytes", deletion.Record.SizeBytes),
				logging.Duration("age", now.Sub(deletion.Record.CreatedAt)),
			)
		}
	}
	if result.FloorConflict {
		logging.WarnWithContext(e.logger, "free-space floor unmet at minimum-keep floor", "retention_floor_conflict",
			logging.Int64("free_bytes", result.FreeBytes),
			logging.Int64("floor_bytes", result.Floor),
			logging.Int("min_keep", max(policy.MinKeep, 1)),
			logging.String(logging.FieldErrorHint, "lower retention.min_keep, free space on the volume, or lower the floor"),
			logging.String(logging.FieldImpact, "backup volume stays below the configured free-space floor"),
		)
	}
	return result, nil
}
