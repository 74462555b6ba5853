package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"worldbackup/internal/catalog"
	"worldbackup/internal/diskmon"
	"worldbackup/internal/faults"
	"worldbackup/internal/logging"
	"worldbackup/internal/retention"
)

// Coordinator is the server quiesce/resume state machine.
type Coordinator interface {
	Quiesce(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Writer produces one artifact.
type Writer interface {
	Write(ctx context.Context, id string, created time.Time) (catalog.Record, error)
}

// Catalog is the subset of the backup catalog a cycle touches.
type Catalog interface {
	List() []catalog.Record
	Latest() (catalog.Record, bool)
	Append(ctx context.Context, rec catalog.Record) error
	TotalBytes() int64
}

// Disk answers admission questions for the backup volume.
type Disk interface {
	Admit(ctx context.Context, expected int64) (diskmon.Admission, error)
	Margin() int64
}

// Evictor applies the retention policy.
type Evictor interface {
	Enforce(ctx context.Context) (retention.Result, error)
	MakeRoom(ctx context.Context, need int64) (retention.Result, error)
}

// Deps are the collaborators a Runner orchestrates.
type Deps struct {
	Server   Coordinator
	Snapshot Writer
	Catalog  Catalog
	Disk     Disk
	Evictor  Evictor
	// WorldSize estimates the size of the next artifact.
	WorldSize func(ctx context.Context) (int64, error)
	Reporters []Reporter
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Options tunes cycle behavior.
type Options struct {
	World string
	// MakeRoom evicts old backups before admission when space is short.
	MakeRoom bool
}

// Runner executes backup cycles. Callers serialize Run.
type Runner struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// NewRunner builds a runner.
func NewRunner(deps Deps, opts Options) *Runner {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Runner{deps: deps, opts: opts, logger: logging.NewComponentLogger(deps.Logger, "cycle")}
}

// Run performs one cycle: measure, admit, quiesce, write, resume, record,
// evict. Every path returns exactly one Outcome, which is also handed to
// every reporter. Cancellation is honored at the checkpoints between steps;
// once the server is quiesced it is always resumed.
func (r *Runner) Run(ctx context.Context) Outcome {
	out := Outcome{
		ID:      uuid.NewString(),
		World:   r.opts.World,
		Started: r.deps.Clock(),
	}
	ctx = logging.WithWorld(logging.WithCycleID(ctx, out.ID), r.opts.World)
	logger := logging.WithContext(ctx, r.logger)

	r.execute(ctx, logger, &out)

	out.Finished = r.deps.Clock()
	out.CatalogCount = len(r.deps.Catalog.List())
	out.CatalogBytes = r.deps.Catalog.TotalBytes()
	if out.Kind != Failed && out.Err != nil && out.Reason == "" {
		out.Reason = out.Err.Error()
	}
	for _, reporter := range r.deps.Reporters {
		reporter.Report(context.WithoutCancel(ctx), out)
	}
	return out
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, out *Outcome) {
	if r.cancelled(ctx, out, "before start") {
		return
	}

	expected, err := r.deps.WorldSize(ctx)
	if err != nil {
		r.fail(out, faults.Wrap(faults.ErrSnapshotIO, "cycle", "measure", "measure world directory", err))
		return
	}
	out.WorldBytes = expected

	if r.opts.MakeRoom {
		result, err := r.deps.Evictor.MakeRoom(ctx, expected+r.deps.Disk.Margin())
		r.absorbEviction(out, result, err)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("make room: %v", err))
		}
	}

	admission, err := r.deps.Disk.Admit(ctx, expected)
	if err != nil {
		r.fail(out, faults.Wrap(faults.ErrDiskSpaceExhausted, "cycle", "admit", "read free space", err))
		return
	}
	out.FreeBytes = admission.FreeBytes
	if !admission.Allowed {
		out.Kind = SkippedNoSpace
		out.Err = admission.Err()
		out.Reason = fmt.Sprintf("need %s for the world plus %s margin, %s free",
			humanize.IBytes(uint64(admission.ExpectedBytes)),
			humanize.IBytes(uint64(admission.MarginBytes)),
			humanize.IBytes(uint64(max(admission.FreeBytes, 0))))
		return
	}

	if r.cancelled(ctx, out, "before quiesce") {
		return
	}
	if err := r.deps.Server.Quiesce(ctx); err != nil {
		if ctx.Err() != nil {
			r.cancelled(ctx, out, "during quiesce")
			return
		}
		out.Kind = SkippedServerUnresponsive
		out.Err = err
		return
	}

	rec, writeErr := r.write(ctx)
	resumeErr := r.deps.Server.Resume(ctx)

	if writeErr != nil {
		r.fail(out, errors.Join(writeErr, resumeErr))
		return
	}

	// The artifact is committed; record it even if shutdown was requested.
	if err := r.deps.Catalog.Append(context.WithoutCancel(ctx), rec); err != nil {
		r.fail(out, errors.Join(err, resumeErr))
		return
	}
	out.Record = &rec
	logger.Info("backup recorded",
		logging.String(logging.FieldBackupID, rec.ID),
		logging.Int64("artifact_bytes", rec.SizeBytes),
	)

	if resumeErr != nil {
		r.fail(out, resumeErr)
	} else {
		out.Kind = Success
	}

	if ctx.Err() != nil {
		out.Warnings = append(out.Warnings, "eviction skipped: shutdown requested")
		return
	}
	result, err := r.deps.Evictor.Enforce(ctx)
	r.absorbEviction(out, result, err)
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("eviction: %v", err))
	}
}

func (r *Runner) write(ctx context.Context) (catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Record{}, faults.Wrap(faults.ErrSnapshotIO, "cycle", "write", "cancelled before snapshot", err)
	}
	latest := ""
	if rec, ok := r.deps.Catalog.Latest(); ok {
		latest = rec.ID
	}
	id, created := catalog.NextID(r.deps.Clock(), latest)
	return r.deps.Snapshot.Write(ctx, id, created)
}

func (r *Runner) absorbEviction(out *Outcome, result retention.Result, err error) {
	out.Evicted = append(out.Evicted, result.Deleted...)
	if err != nil {
		return
	}
	out.FreeBytes = result.FreeBytes
	out.FloorConflict = result.FloorConflict
	out.FloorBytes = result.Floor
	if warning := result.Warning(); warning != nil {
		out.Warnings = append(out.Warnings, warning.Error())
	}
}

func (r *Runner) cancelled(ctx context.Context, out *Outcome, stage string) bool {
	err := ctx.Err()
	if err == nil {
		return false
	}
	out.Kind = Failed
	out.Err = err
	out.Reason = "cancelled " + stage
	return true
}

func (r *Runner) fail(out *Outcome, err error) {
	out.Kind = Failed
	out.Err = err
	out.Reason = err.Error()
}
