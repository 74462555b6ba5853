package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"worldbackup/internal/catalog"
	"worldbackup/internal/config"
	"worldbackup/internal/cycle"
	"worldbackup/internal/diskmon"
	"worldbackup/internal/logging"
	"worldbackup/internal/metrics"
	"worldbackup/internal/notifications"
	"worldbackup/internal/preflight"
	"worldbackup/internal/retention"
	"worldbackup/internal/scheduler"
	"worldbackup/internal/server"
	"worldbackup/internal/snapshot"
)

// ErrLocked is returned when another worldbackup process holds the lock.
var ErrLocked = errors.New("another worldbackup process holds the lock")

// Daemon owns every component for one world and the single-instance lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	lock     *flock.Flock
	lockPath string

	catalog   *catalog.Catalog
	issues    []catalog.Issue
	disk      *diskmon.Monitor
	coord     *server.Coordinator
	evictor   *retention.Evictor
	runner    *cycle.Runner
	scheduler *scheduler.Scheduler
	recorder  *metrics.Recorder
	notifier  notifications.Service

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	exitErr error
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool             `json:"running"`
	World         string           `json:"world"`
	WorldDir      string           `json:"world_dir"`
	BackupDir     string           `json:"backup_dir"`
	LockFilePath  string           `json:"lock_file_path"`
	Backups       int              `json:"backups"`
	BackupBytes   int64            `json:"backup_bytes"`
	Latest        *catalog.Record  `json:"latest,omitempty"`
	FreeBytes     int64            `json:"free_bytes"`
	ServerState   string           `json:"server_state"`
	Scheduler     scheduler.Status `json:"scheduler"`
	CatalogIssues int              `json:"catalog_issues"`
	// CatalogProblem is set when a recorded artifact is missing on disk or
	// an invariant no longer holds.
	CatalogProblem string `json:"catalog_problem,omitempty"`
}

// PruneReport describes a manual retention run.
type PruneReport struct {
	DryRun        bool                 `json:"dry_run"`
	Deleted       []retention.Deletion `json:"deleted"`
	Kept          int                  `json:"kept"`
	FreeBytes     int64                `json:"free_bytes"`
	FloorConflict bool                 `json:"floor_conflict"`
}

// Open takes the lock, reconciles the catalog, and wires the cycle
// components. The lock is held until Close so stale-temp cleanup never races
// another process's in-flight write.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	cat, issues, err := catalog.Open(ctx, catalog.Options{
		Dir:    cfg.WorldBackupDir(),
		World:  cfg.Paths.WorldName,
		Logger: logger,
	})
	if err != nil {
		_ = d.lock.Unlock()
		return nil, err
	}
	d.catalog = cat
	d.issues = issues

	control := o.control
	if control == nil {
		control, err = NewControl(cfg, logger)
		if err != nil {
			_ = cat.Close()
			_ = d.lock.Unlock()
			return nil, err
		}
	}

	d.recorder = metrics.New(cfg.Paths.WorldName)
	d.notifier = o.notifier
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	var diskOpts []diskmon.Option
	if o.stat != nil {
		diskOpts = append(diskOpts, diskmon.WithStatFunc(o.stat))
	}
	d.disk = diskmon.New(cfg.WorldBackupDir(), cfg.SafetyMarginBytes(), diskOpts...)

	d.coord = server.NewCoordinator(control, server.Options{
		QuiesceTimeout:       seconds(cfg.Server.QuiesceTimeout),
		ResumeTimeout:        seconds(cfg.Server.ResumeTimeout),
		ResumeAttempts:       cfg.Server.ResumeAttempts,
		ResumeBackoff:        o.resumeBackoff,
		BreakerThreshold:     cfg.Server.BreakerThreshold,
		OnBreakerStateChange: d.recorder.SetBreakerState,
	}, logger)

	writer := snapshot.New(snapshot.Options{
		WorldDir:         cfg.Paths.WorldDir,
		BackupDir:        cfg.WorldBackupDir(),
		World:            cfg.Paths.WorldName,
		Format:           cfg.Snapshot.Format,
		CompressionLevel: cfg.Snapshot.CompressionLevel,
		Exclude:          cfg.Snapshot.Exclude,
	}, logger)

	d.evictor = retention.NewEvictor(cat, d.disk, PolicyFromConfig(cfg), logger)

	reporters := []cycle.Reporter{
		cycle.LogReporter{Logger: logger},
		cycle.MetricsReporter{Recorder: d.recorder},
		cycle.NotifyReporter{
			Service:  d.notifier,
			Success:  cfg.Notifications.Success,
			Skipped:  cfg.Notifications.Skipped,
			Failures: cfg.Notifications.Failures,
			Floor:    cfg.FreeSpaceFloorBytes(),
			Logger:   logger,
		},
	}
	reporters = append(reporters, o.reporters...)

	worldDir := cfg.Paths.WorldDir
	d.runner = cycle.NewRunner(cycle.Deps{
		Server:   d.coord,
		Snapshot: writer,
		Catalog:  cat,
		Disk:     d.disk,
		Evictor:  d.evictor,
		WorldSize: func(ctx context.Context) (int64, error) {
			return diskmon.DirSize(ctx, worldDir)
		},
		Reporters: reporters,
		Logger:    logger,
	}, cycle.Options{
		World:    cfg.Paths.WorldName,
		MakeRoom: cfg.Retention.MakeRoomBeforeBackup,
	})

	d.scheduler = scheduler.New(d.runner, scheduler.Options{
		Interval:   seconds(cfg.Schedule.Interval),
		Jitter:     seconds(cfg.Schedule.Jitter),
		RunOnStart: cfg.Schedule.RunOnStart,
	}, logger)

	d.recorder.SetCatalog(len(cat.List()), cat.TotalBytes())
	return d, nil
}

// PolicyFromConfig converts the retention section into a policy.
func PolicyFromConfig(cfg *config.Config) retention.Policy {
	return retention.Policy{
		MinKeep:   cfg.Retention.MinKeep,
		MaxCount:  cfg.Retention.MaxCount,
		MaxAge:    time.Duration(cfg.Retention.MaxAgeDays) * 24 * time.Hour,
		FreeFloor: cfg.FreeSpaceFloorBytes(),
	}
}

// NewControl builds the configured server control driver.
func NewControl(cfg *config.Config, logger *slog.Logger) (server.Control, error) {
	switch cfg.Server.Driver {
	case config.DriverRCON:
		return server.NewRCON(server.RCONOptions{
			Address:         cfg.Server.RCONAddress,
			Password:        cfg.Server.RCONPassword,
			QuiesceCommands: cfg.Server.QuiesceCommands,
			ResumeCommands:  cfg.Server.ResumeCommands,
			Settle:          seconds(cfg.Server.SettleSeconds),
		}, logger), nil
	case config.DriverExec:
		return server.NewExec(cfg.Server.ExecQuiesce, cfg.Server.ExecResume, logger), nil
	case config.DriverNone:
		return server.Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported server driver %q", cfg.Server.Driver)
	}
}

// Start runs the scheduler in the background.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.catalog == nil {
		return errors.New("daemon is closed")
	}

	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			d.logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path or server setting"),
			logging.String(logging.FieldImpact, "backup cycles may be skipped or fail"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	done := make(chan struct{})
	d.done = done
	d.exitErr = nil
	d.running.Store(true)
	go func() {
		d.exitErr = d.scheduler.Run(runCtx)
		close(done)
	}()

	d.logger.Info("worldbackup daemon started",
		logging.String(logging.FieldWorld, d.cfg.Paths.WorldName),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Done is closed when the scheduler loop exits, either after Stop or on a
// fatal cycle outcome. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err returns the scheduler's exit error once Done is closed. A non-nil
// error is fatal.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.done:
		return d.exitErr
	default:
		return nil
	}
}

// Stop cancels the scheduler and waits for any in-flight cycle to reach a
// safe stopping point.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.cancel()
	d.cancel = nil
	<-d.done
	d.running.Store(false)
	d.logger.Info("worldbackup daemon stopped")
}

// Close stops the daemon, closes the catalog, and releases the lock.
func (d *Daemon) Close() error {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.catalog != nil {
		err = d.catalog.Close()
		d.catalog = nil
	}
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
	}
	return err
}

// RunCycle runs one backup cycle now. It returns scheduler.ErrBusy when a
// cycle or prune is already in progress.
func (d *Daemon) RunCycle(ctx context.Context) (cycle.Outcome, error) {
	return d.scheduler.RunNow(ctx)
}

// Prune applies retention outside the timer. A dry run only reports the plan.
func (d *Daemon) Prune(ctx context.Context, dryRun bool) (PruneReport, error) {
	report := PruneReport{DryRun: dryRun}
	err := d.scheduler.Exclusive(ctx, func(ctx context.Context) error {
		if dryRun {
			plan, err := d.evictor.Preview(ctx)
			if err != nil {
				return err
			}
			report.Deleted = plan.Delete
			report.Kept = len(plan.Keep)
			report.FreeBytes = plan.PredictedFreeBytes
			report.FloorConflict = plan.FloorConflict
			return nil
		}
		result, err := d.evictor.Enforce(ctx)
		report.Deleted = result.Deleted
		report.FreeBytes = result.FreeBytes
		report.FloorConflict = result.FloorConflict
		report.Kept = len(d.catalog.List())
		for _, del := range result.Deleted {
			d.recorder.ObserveEviction(string(del.Reason))
		}
		d.recorder.SetCatalog(report.Kept, d.catalog.TotalBytes())
		return err
	})
	return report, err
}

// List returns the catalog, newest first.
func (d *Daemon) List() []catalog.Record {
	return d.catalog.List()
}

// Issues returns what catalog reconciliation repaired at Open.
func (d *Daemon) Issues() []catalog.Issue {
	return d.issues
}

// Metrics exposes the Prometheus recorder.
func (d *Daemon) Metrics() *metrics.Recorder {
	return d.recorder
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		World:         d.cfg.Paths.WorldName,
		WorldDir:      d.cfg.Paths.WorldDir,
		BackupDir:     d.cfg.WorldBackupDir(),
		LockFilePath:  d.lockPath,
		Backups:       len(d.catalog.List()),
		BackupBytes:   d.catalog.TotalBytes(),
		ServerState:   d.coord.State().String(),
		Scheduler:     d.scheduler.Status(),
		CatalogIssues: len(d.issues),
	}
	if latest, ok := d.catalog.Latest(); ok {
		status.Latest = &latest
	}
	if err := d.catalog.Verify(); err != nil {
		status.CatalogProblem = err.Error()
		logging.WarnWithContext(d.logger, "catalog verification failed", "catalog_verify_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the daemon to reconcile the catalog with the backup directory"),
			logging.String(logging.FieldImpact, "listed backups may not be restorable"),
		)
	}
	if free, err := d.disk.FreeBytes(ctx); err == nil {
		status.FreeBytes = free
		d.recorder.SetFreeBytes(free)
	} else {
		d.logger.Warn("failed to read free space", logging.Error(err))
	}
	return status
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
