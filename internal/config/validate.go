package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateAdmission(); err != nil {
		return err
	}
	if err := c.validateSnapshot(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.WorldDir == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("paths.world_dir is required. Edit %s (create with 'worldbackup config init')", defaultPath)
	}
	if c.Paths.BackupDir == "" {
		return errors.New("paths.backup_dir must be set")
	}
	if c.Paths.WorldName == "" || c.Paths.WorldName == "." || c.Paths.WorldName == string(filepath.Separator) {
		return errors.New("paths.world_name must be set")
	}
	if strings.ContainsAny(c.Paths.WorldName, `/\`) {
		return fmt.Errorf("paths.world_name %q must not contain path separators", c.Paths.WorldName)
	}
	// ".." escapes backup_dir; other dot names collide with the catalog and temp files.
	if strings.HasPrefix(c.Paths.WorldName, ".") {
		return fmt.Errorf("paths.world_name %q must not start with a dot", c.Paths.WorldName)
	}
	if c.Paths.BackupDir == c.Paths.WorldDir || isWithin(c.Paths.WorldDir, c.Paths.BackupDir) {
		return errors.New("paths.backup_dir must not be inside paths.world_dir")
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if c.Schedule.Interval <= 0 {
		return errors.New("schedule.interval must be positive")
	}
	if c.Schedule.Jitter < 0 {
		return errors.New("schedule.jitter must be >= 0")
	}
	if c.Schedule.Jitter >= c.Schedule.Interval {
		return errors.New("schedule.jitter must be less than schedule.interval")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.MinKeep < 1 {
		return errors.New("retention.min_keep must be at least 1")
	}
	if c.Retention.MaxCount < 0 {
		return errors.New("retention.max_count must be >= 0 (0 disables the bound)")
	}
	if c.Retention.MaxCount > 0 && c.Retention.MaxCount < c.Retention.MinKeep {
		return errors.New("retention.max_count must be >= retention.min_keep")
	}
	if c.Retention.MaxAgeDays < 0 {
		return errors.New("retention.max_age_days must be >= 0 (0 disables the bound)")
	}
	if _, err := parseSize(c.Retention.FreeSpaceFloor); err != nil {
		return fmt.Errorf("retention.free_space_floor: %w", err)
	}
	return nil
}

func (c *Config) validateAdmission() error {
	if _, err := parseSize(c.Admission.SafetyMargin); err != nil {
		return fmt.Errorf("admission.safety_margin: %w", err)
	}
	return nil
}

func (c *Config) validateSnapshot() error {
	switch c.Snapshot.Format {
	case FormatTarGz, FormatDirectory:
	default:
		return fmt.Errorf("snapshot.format %q is not supported (use %q or %q)", c.Snapshot.Format, FormatTarGz, FormatDirectory)
	}
	if c.Snapshot.Format == FormatTarGz && (c.Snapshot.CompressionLevel < 1 || c.Snapshot.CompressionLevel > 9) {
		return errors.New("snapshot.compression_level must be between 1 and 9")
	}
	for _, pattern := range c.Snapshot.Exclude {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("snapshot.exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	switch c.Server.Driver {
	case DriverRCON:
		if c.Server.RCONAddress == "" {
			return errors.New("server.rcon_address must be set when server.driver is rcon")
		}
		if c.Server.RCONPassword == "" {
			return fmt.Errorf("server.rcon_password is required for the rcon driver. Set %s or edit the config file", rconPasswordEnv)
		}
		if len(c.Server.QuiesceCommands) == 0 {
			return errors.New("server.quiesce_commands must not be empty for the rcon driver")
		}
		if len(c.Server.ResumeCommands) == 0 {
			return errors.New("server.resume_commands must not be empty for the rcon driver")
		}
	case DriverExec:
		if len(c.Server.ExecQuiesce) == 0 {
			return errors.New("server.exec_quiesce must be set when server.driver is exec")
		}
		if len(c.Server.ExecResume) == 0 {
			return errors.New("server.exec_resume must be set when server.driver is exec")
		}
	case DriverNone:
	default:
		return fmt.Errorf("server.driver %q is not supported (use rcon, exec, or none)", c.Server.Driver)
	}
	if err := ensurePositiveMap(map[string]int{
		"server.quiesce_timeout": c.Server.QuiesceTimeout,
		"server.resume_timeout":  c.Server.ResumeTimeout,
		"server.resume_attempts": c.Server.ResumeAttempts,
	}); err != nil {
		return err
	}
	if c.Server.SettleSeconds < 0 {
		return errors.New("server.settle_seconds must be >= 0")
	}
	if c.Server.BreakerThreshold < 0 {
		return errors.New("server.breaker_threshold must be >= 0 (0 disables the breaker)")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
