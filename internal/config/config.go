package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the world, backup, and runtime state locations.
type Paths struct {
	WorldDir  string `toml:"world_dir"`
	WorldName string `toml:"world_name"`
	BackupDir string `toml:"backup_dir"`
	StateDir  string `toml:"state_dir"`
}

// Schedule controls how often the daemon starts a backup cycle.
type Schedule struct {
	Interval   int  `toml:"interval"`
	Jitter     int  `toml:"jitter"`
	RunOnStart bool `toml:"run_on_start"`
}

// Retention bounds the set of backups kept on the backup volume.
type Retention struct {
	MinKeep              int    `toml:"min_keep"`
	MaxCount             int    `toml:"max_count"`
	MaxAgeDays           int    `toml:"max_age_days"`
	FreeSpaceFloor       string `toml:"free_space_floor"`
	MakeRoomBeforeBackup bool   `toml:"make_room_before_backup"`
}

// Admission contains the pre-flight space check settings.
type Admission struct {
	SafetyMargin string `toml:"safety_margin"`
}

// Snapshot describes how backup artifacts are written.
type Snapshot struct {
	Format           string   `toml:"format"`
	CompressionLevel int      `toml:"compression_level"`
	Exclude          []string `toml:"exclude"`
}

// Server configures the live server control driver.
type Server struct {
	Driver           string   `toml:"driver"`
	RCONAddress      string   `toml:"rcon_address"`
	RCONPassword     string   `toml:"rcon_password"`
	QuiesceCommands  []string `toml:"quiesce_commands"`
	ResumeCommands   []string `toml:"resume_commands"`
	ExecQuiesce      []string `toml:"exec_quiesce"`
	ExecResume       []string `toml:"exec_resume"`
	QuiesceTimeout   int      `toml:"quiesce_timeout"`
	ResumeTimeout    int      `toml:"resume_timeout"`
	ResumeAttempts   int      `toml:"resume_attempts"`
	SettleSeconds    int      `toml:"settle_seconds"`
	BreakerThreshold int      `toml:"breaker_threshold"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Success        bool   `toml:"success"`
	Skipped        bool   `toml:"skipped"`
	Failures       bool   `toml:"failures"`
}

// Metrics configures the optional Prometheus listener.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for worldbackup.
//
// Configuration sections by subsystem:
//   - Paths: world directory, backup volume, runtime state
//   - Schedule: cycle interval and jitter
//   - Retention: min-keep floor, count and age bounds, free-space floor
//   - Admission: safety margin for the pre-flight space check
//   - Snapshot: artifact format and exclusions
//   - Server: quiesce/resume driver, timeouts, retries
//   - Notifications: ntfy delivery of cycle outcomes
//   - Metrics: Prometheus listener
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Schedule      Schedule      `toml:"schedule"`
	Retention     Retention     `toml:"retention"`
	Admission     Admission     `toml:"admission"`
	Snapshot      Snapshot      `toml:"snapshot"`
	Server        Server        `toml:"server"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Parse decodes TOML content on top of the defaults, then normalizes and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("worldbackup.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon and CLI write to.
// The world directory belongs to the game server and is never created here.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.LogDir(), c.WorldBackupDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WorldBackupDir is the per-world directory holding artifacts and catalog metadata.
func (c *Config) WorldBackupDir() string {
	if c.Paths.BackupDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.BackupDir, c.Paths.WorldName)
}

// LogDir returns the directory for daemon run logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.StateDir, "logs")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "worldbackup.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "worldbackup.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "worldbackup.pid")
}

// FreeSpaceFloorBytes returns retention.free_space_floor in bytes.
// Validate rejects unparseable values, so 0 is only returned for "0".
func (c *Config) FreeSpaceFloorBytes() int64 {
	n, _ := parseSize(c.Retention.FreeSpaceFloor)
	return n
}

// SafetyMarginBytes returns admission.safety_margin in bytes.
func (c *Config) SafetyMarginBytes() int64 {
	n, _ := parseSize(c.Admission.SafetyMargin)
	return n
}

func parseSize(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows int64", value)
	}
	return int64(n), nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
