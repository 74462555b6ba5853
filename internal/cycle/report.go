package cycle

import (
	"context"
	"log/slog"

	"worldbackup/internal/faults"
	"worldbackup/internal/logging"
	"worldbackup/internal/metrics"
	"worldbackup/internal/notifications"
)

// Reporter receives every finished cycle.
type Reporter interface {
	Report(ctx context.Context, out Outcome)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, out Outcome)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, out Outcome) { f(ctx, out) }

// LogReporter writes one summary line per cycle.
type LogReporter struct {
	Logger *slog.Logger
}

// Report logs the outcome at a level matching its kind.
func (l LogReporter) Report(ctx context.Context, out Outcome) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(l.Logger, "cycle"))
	attrs := []logging.Attr{
		logging.String("outcome", string(out.Kind)),
		logging.Duration("duration", out.Duration()),
		logging.Int("catalog_backups", out.CatalogCount),
		logging.Int64("catalog_bytes", out.CatalogBytes),
		logging.Int("evicted", len(out.Evicted)),
	}
	if out.Record != nil {
		attrs = append(attrs,
			logging.String(logging.FieldBackupID, out.Record.ID),
			logging.Int64("artifact_bytes", out.Record.SizeBytes),
		)
	}
	for _, warning := range out.Warnings {
		logging.WarnWithContext(logger, "backup cycle warning", "cycle_warning",
			logging.String("warning", warning),
			logging.String(logging.FieldImpact, "old backups may exceed the configured bounds"),
		)
	}

	switch out.Kind {
	case Success:
		logger.Info("backup cycle finished", logging.Args(attrs...)...)
	case SkippedNoSpace:
		attrs = append(attrs, logging.String("reason", out.Reason))
		logging.WarnWithContext(logger, "backup cycle skipped", "cycle_skipped_no_space", append(attrs,
			logging.String(logging.FieldErrorHint, "free space on the backup volume or lower admission.safety_margin"),
			logging.String(logging.FieldImpact, "no backup was taken this cycle"),
		)...)
	case SkippedServerUnresponsive:
		attrs = append(attrs, logging.String("reason", out.Reason))
		logging.WarnWithContext(logger, "backup cycle skipped", "cycle_skipped_server_unresponsive", append(attrs,
			logging.String(logging.FieldErrorHint, "check the server console and the control driver settings"),
			logging.String(logging.FieldImpact, "no backup was taken this cycle"),
		)...)
	default:
		attrs = append(attrs,
			logging.Error(out.Err),
			logging.String(logging.FieldErrorKind, faults.Kind(out.Err)),
			logging.Bool("fatal", out.Fatal()),
		)
		logging.ErrorWithContext(logger, "backup cycle failed", "cycle_failed", attrs...)
	}
}

// NotifyReporter pushes outcomes to a notification service.
type NotifyReporter struct {
	Service notifications.Service
	// Success, Skipped and Failures gate each kind of message.
	Success  bool
	Skipped  bool
	Failures bool
	// Floor is the configured free-space floor, reported on conflicts when
	// the outcome does not carry the floor eviction used.
	Floor  int64
	Logger *slog.Logger
}

// Report sends the matching notification. Delivery errors are logged only.
func (n NotifyReporter) Report(ctx context.Context, out Outcome) {
	if n.Service == nil {
		return
	}
	var err error
	switch {
	case out.Kind == Success && n.Success && out.Record != nil:
		err = n.Service.NotifyBackupCompleted(ctx, out.World, out.Record.ID, out.Record.SizeBytes, out.Duration())
	case out.Kind.Skipped() && n.Skipped:
		err = n.Service.NotifyBackupSkipped(ctx, out.World, out.Reason)
	case out.Kind == Failed && n.Failures:
		err = n.Service.NotifyBackupFailed(ctx, out.World, out.Err)
	}
	if err == nil && out.FloorConflict && n.Failures {
		floor := out.FloorBytes
		if floor <= 0 {
			floor = n.Floor
		}
		err = n.Service.NotifyFloorConflict(ctx, out.World, out.FreeBytes, floor)
	}
	if err != nil {
		logging.WarnWithContext(n.Logger, "notification failed", "notification_failed",
			logging.String("outcome", string(out.Kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
			logging.String(logging.FieldImpact, "cycle outcome was not delivered"),
		)
	}
}

// MetricsReporter folds outcomes into Prometheus collectors.
type MetricsReporter struct {
	Recorder *metrics.Recorder
}

// Report updates counters and gauges.
func (m MetricsReporter) Report(_ context.Context, out Outcome) {
	if m.Recorder == nil {
		return
	}
	m.Recorder.ObserveCycle(string(out.Kind), out.Duration())
	if out.Kind == Success && out.Record != nil {
		m.Recorder.ObserveSuccess(out.Finished, out.Record.SizeBytes)
	}
	for _, d := range out.Evicted {
		m.Recorder.ObserveEviction(string(d.Reason))
	}
	m.Recorder.SetCatalog(out.CatalogCount, out.CatalogBytes)
	if out.Kind != Failed || out.FreeBytes > 0 {
		m.Recorder.SetFreeBytes(out.FreeBytes)
	}
	m.Recorder.SetFloorConflict(out.FloorConflict)
}
