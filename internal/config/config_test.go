package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"worldbackup/internal/config"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "worldbackup.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadWithoutWorldDirReportsConfigPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected error when world_dir is missing")
	}
	if !strings.Contains(err.Error(), "paths.world_dir is required") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), filepath.Join(tempHome, ".config", "worldbackup", "config.toml")) {
		t.Fatalf("expected default config path in error, got %v", err)
	}
}

func TestLoadCustomPathAppliesDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("WORLDBACKUP_RCON_PASSWORD", "env-secret")

	path := writeConfig(t, t.TempDir(), `
[paths]
world_dir = "~/server/survival"
backup_dir = "~/backups"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, path)
	}
	if cfg.Paths.WorldDir != filepath.Join(tempHome, "server", "survival") {
		t.Fatalf("unexpected world dir: %q", cfg.Paths.WorldDir)
	}
	if cfg.Paths.WorldName != "survival" {
		t.Fatalf("expected world name derived from world dir, got %q", cfg.Paths.WorldName)
	}
	if cfg.WorldBackupDir() != filepath.Join(tempHome, "backups", "survival") {
		t.Fatalf("unexpected world backup dir: %q", cfg.WorldBackupDir())
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, ".local", "share", "worldbackup") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Server.RCONPassword != "env-secret" {
		t.Fatalf("expected rcon password from env, got %q", cfg.Server.RCONPassword)
	}
	if cfg.Retention.MinKeep != config.Default().Retention.MinKeep {
		t.Fatalf("unexpected min keep: %d", cfg.Retention.MinKeep)
	}
	if cfg.SafetyMarginBytes() != 1<<30 {
		t.Fatalf("expected 1 GiB safety margin, got %d", cfg.SafetyMarginBytes())
	}
	if cfg.FreeSpaceFloorBytes() != 0 {
		t.Fatalf("expected zero free-space floor, got %d", cfg.FreeSpaceFloorBytes())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.LogDir(), cfg.WorldBackupDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
	if _, err := os.Stat(cfg.Paths.WorldDir); !os.IsNotExist(err) {
		t.Fatalf("world dir must not be created, stat err=%v", err)
	}
}

func TestConfigFilePasswordWinsOverEnv(t *testing.T) {
	t.Setenv("WORLDBACKUP_RCON_PASSWORD", "env-secret")
	cfg, err := config.Parse([]byte(`
[paths]
world_dir = "/srv/world"
backup_dir = "/srv/backups"
[server]
rcon_password = "file-secret"
`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if cfg.Server.RCONPassword != "file-secret" {
		t.Fatalf("expected file password, got %q", cfg.Server.RCONPassword)
	}
}

func TestParseHumanSizesAndAliases(t *testing.T) {
	cfg, err := config.Parse([]byte(`
[paths]
world_dir = "/srv/world"
backup_dir = "/srv/backups"
world_name = "creative"
[retention]
free_space_floor = "20 GiB"
[admission]
safety_margin = "512MB"
[snapshot]
format = "DIR"
[server]
driver = "none"
[logging]
format = "JSON"
level = "DEBUG"
`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if cfg.FreeSpaceFloorBytes() != 20<<30 {
		t.Fatalf("unexpected floor: %d", cfg.FreeSpaceFloorBytes())
	}
	if cfg.SafetyMarginBytes() != 512_000_000 {
		t.Fatalf("unexpected margin: %d", cfg.SafetyMarginBytes())
	}
	if cfg.Snapshot.Format != config.FormatDirectory {
		t.Fatalf("expected directory format, got %q", cfg.Snapshot.Format)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.WorldBackupDir() != filepath.Join("/srv/backups", "creative") {
		t.Fatalf("unexpected world backup dir: %q", cfg.WorldBackupDir())
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "world_dir") {
		t.Fatalf("sample config missing world_dir: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Retention.MinKeep != 3 {
		t.Fatalf("expected sample min_keep 3, got %d", cfg.Retention.MinKeep)
	}

	if _, err := config.Parse(contents); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.Paths.WorldDir = "/srv/world"
	cfg.Paths.WorldName = "world"
	cfg.Paths.BackupDir = "/srv/backups"
	cfg.Server.RCONPassword = "secret"
	return cfg
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	base := validConfig()
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"min keep zero", func(c *config.Config) { c.Retention.MinKeep = 0 }, "retention.min_keep"},
		{"max count below min keep", func(c *config.Config) { c.Retention.MaxCount = 2 }, "retention.max_count"},
		{"negative age", func(c *config.Config) { c.Retention.MaxAgeDays = -1 }, "retention.max_age_days"},
		{"bad floor", func(c *config.Config) { c.Retention.FreeSpaceFloor = "lots" }, "retention.free_space_floor"},
		{"bad margin", func(c *config.Config) { c.Admission.SafetyMargin = "-1" }, "admission.safety_margin"},
		{"zero interval", func(c *config.Config) { c.Schedule.Interval = 0 }, "schedule.interval"},
		{"jitter too large", func(c *config.Config) { c.Schedule.Jitter = c.Schedule.Interval }, "schedule.jitter"},
		{"world name parent dir", func(c *config.Config) { c.Paths.WorldName = ".." }, "paths.world_name"},
		{"world name hidden", func(c *config.Config) { c.Paths.WorldName = ".survival" }, "paths.world_name"},
		{"world name with separator", func(c *config.Config) { c.Paths.WorldName = "a/../b" }, "paths.world_name"},
		{"backup inside world", func(c *config.Config) { c.Paths.BackupDir = "/srv/world/backups" }, "paths.backup_dir"},
		{"unknown format", func(c *config.Config) { c.Snapshot.Format = "zip" }, "snapshot.format"},
		{"compression out of range", func(c *config.Config) { c.Snapshot.CompressionLevel = 12 }, "snapshot.compression_level"},
		{"bad exclude", func(c *config.Config) { c.Snapshot.Exclude = []string{"["} }, "snapshot.exclude"},
		{"rcon without password", func(c *config.Config) { c.Server.RCONPassword = "" }, "server.rcon_password"},
		{"exec without argv", func(c *config.Config) { c.Server.Driver = config.DriverExec }, "server.exec_quiesce"},
		{"unknown driver", func(c *config.Config) { c.Server.Driver = "ssh" }, "server.driver"},
		{"zero quiesce timeout", func(c *config.Config) { c.Server.QuiesceTimeout = 0 }, "server.quiesce_timeout"},
		{"zero resume attempts", func(c *config.Config) { c.Server.ResumeAttempts = 0 }, "server.resume_attempts"},
		{"unknown log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateAllowsDisabledBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.MaxCount = 0
	cfg.Retention.MaxAgeDays = 0
	cfg.Server.Driver = config.DriverNone
	cfg.Server.RCONPassword = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled bounds to validate: %v", err)
	}
}
