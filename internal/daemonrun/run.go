package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"worldbackup/internal/config"
	"worldbackup/internal/daemon"
	"worldbackup/internal/ipc"
	"worldbackup/internal/logging"
	"worldbackup/internal/metrics"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Diagnostic  bool
	// SocketPath overrides the config-derived IPC socket location.
	SocketPath string
}

// Run starts the worldbackup daemon and blocks until a shutdown signal or a
// fatal cycle outcome.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logDir := cfg.LogDir()
	logPath := filepath.Join(logDir, fmt.Sprintf("worldbackup-%s.log", runID))

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if opts.Diagnostic {
		logger = withDiagnosticLog(logger, logDir, runID)
	}

	if err := ensureCurrentLogPointer(logDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update worldbackup.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: logDir, Pattern: "worldbackup-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: filepath.Join(logDir, "debug"), Pattern: "worldbackup-*.log"},
	)
	logConfigSnapshot(logger, cfg)

	d, err := daemon.Open(signalCtx, cfg, logger)
	if err != nil {
		if errors.Is(err, daemon.ErrLocked) {
			return fmt.Errorf("%w (lock file %s)", err, cfg.LockPath())
		}
		logger.Error("open daemon", logging.Error(err))
		return err
	}
	defer d.Close()

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	socketPath := cfg.SocketPath()
	if strings.TrimSpace(opts.SocketPath) != "" {
		socketPath = opts.SocketPath
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if addr := strings.TrimSpace(cfg.Metrics.Listen); addr != "" {
		metricsServer, err := metrics.Listen(addr, d.Metrics(), logger)
		if err != nil {
			return fmt.Errorf("start metrics listener: %w", err)
		}
		metricsDone := make(chan error, 1)
		go func() { metricsDone <- metricsServer.Serve(signalCtx) }()
		defer func() {
			cancel()
			if err := <-metricsDone; err != nil {
				logger.Warn("metrics listener stopped with error", logging.Error(err))
			}
		}()
	}

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	select {
	case <-signalCtx.Done():
		logger.Info("worldbackup daemon shutting down")
		d.Stop()
		return nil
	case <-d.Done():
		if err := d.Err(); err != nil {
			logging.ErrorWithContext(logger, "worldbackup daemon stopped on fatal error", "daemon_fatal",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the backup directory and catalog before restarting"),
			)
			cancel()
			return err
		}
		return nil
	}
}

func withDiagnosticLog(logger *slog.Logger, logDir, runID string) *slog.Logger {
	sessionID := uuid.NewString()
	debugDir := filepath.Join(logDir, "debug")
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to create debug log directory: %v\n", err)
		return logger
	}
	debugLogPath := filepath.Join(debugDir, fmt.Sprintf("worldbackup-%s.log", runID))
	handler, err := logging.NewHandler(logging.Options{
		Level:       "debug",
		Format:      "json",
		Outputs:     []string{debugLogPath},
		Development: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", err)
		return logger
	}
	logger = logging.TeeLogger(logger, handler).With(logging.String("session_id", sessionID))
	if err := ensureCurrentLogPointer(debugDir, debugLogPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update debug/worldbackup.log link: %v\n", err)
	}
	logger.Info("diagnostic mode enabled",
		logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
		logging.String("debug_log_path", debugLogPath),
	)
	return logger
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "worldbackup.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String(logging.FieldWorld, cfg.Paths.WorldName),
		logging.String("world_dir", cfg.Paths.WorldDir),
		logging.String("backup_dir", cfg.WorldBackupDir()),
		logging.String("snapshot_format", cfg.Snapshot.Format),
		logging.String("server_driver", cfg.Server.Driver),
		logging.Int("interval_seconds", cfg.Schedule.Interval),
		logging.Int("jitter_seconds", cfg.Schedule.Jitter),
		logging.Int("min_keep", cfg.Retention.MinKeep),
		logging.Int("max_count", cfg.Retention.MaxCount),
		logging.Int("max_age_days", cfg.Retention.MaxAgeDays),
		logging.String("free_space_floor", cfg.Retention.FreeSpaceFloor),
		logging.String("safety_margin", cfg.Admission.SafetyMargin),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("metrics_enabled", strings.TrimSpace(cfg.Metrics.Listen) != ""),
	)
}
