package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSnapshot()
	c.normalizeServer()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorldDir, err = expandPath(strings.TrimSpace(c.Paths.WorldDir)); err != nil {
		return fmt.Errorf("paths.world_dir: %w", err)
	}
	if c.Paths.BackupDir, err = expandPath(strings.TrimSpace(c.Paths.BackupDir)); err != nil {
		return fmt.Errorf("paths.backup_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.WorldName = strings.TrimSpace(c.Paths.WorldName)
	if c.Paths.WorldName == "" && c.Paths.WorldDir != "" {
		c.Paths.WorldName = filepath.Base(c.Paths.WorldDir)
	}
	return nil
}

func (c *Config) normalizeSnapshot() {
	c.Snapshot.Format = strings.ToLower(strings.TrimSpace(c.Snapshot.Format))
	switch c.Snapshot.Format {
	case "":
		c.Snapshot.Format = defaultSnapshotFormat
	case "tgz", "targz":
		c.Snapshot.Format = FormatTarGz
	case "dir":
		c.Snapshot.Format = FormatDirectory
	}
	c.Snapshot.Exclude = trimList(c.Snapshot.Exclude)
}

func (c *Config) normalizeServer() {
	c.Server.Driver = strings.ToLower(strings.TrimSpace(c.Server.Driver))
	if c.Server.Driver == "" {
		c.Server.Driver = defaultServerDriver
	}
	c.Server.RCONAddress = strings.TrimSpace(c.Server.RCONAddress)
	if c.Server.RCONPassword == "" {
		if value, ok := os.LookupEnv(rconPasswordEnv); ok {
			c.Server.RCONPassword = value
		}
	}
	c.Server.QuiesceCommands = trimList(c.Server.QuiesceCommands)
	c.Server.ResumeCommands = trimList(c.Server.ResumeCommands)
	c.Server.ExecQuiesce = trimList(c.Server.ExecQuiesce)
	c.Server.ExecResume = trimList(c.Server.ExecResume)
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(ntfyTopicEnv); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func trimList(values []string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
