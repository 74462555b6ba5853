package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"worldbackup/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a validated config seeded with unique temp directories
// per test: a world directory, a backup directory, and a state directory.
// The server driver defaults to "none" so no live server is required.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorldDir = filepath.Join(base, "server", "world")
	cfgVal.Paths.WorldName = "world"
	cfgVal.Paths.BackupDir = filepath.Join(base, "backups")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Server.Driver = config.DriverNone
	cfgVal.Admission.SafetyMargin = "0"
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	if err := os.MkdirAll(builder.cfg.Paths.WorldDir, 0o755); err != nil {
		t.Fatalf("mkdir world dir: %v", err)
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithRetention overrides the retention bounds.
func WithRetention(minKeep, maxCount, maxAgeDays int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retention.MinKeep = minKeep
		b.cfg.Retention.MaxCount = maxCount
		b.cfg.Retention.MaxAgeDays = maxAgeDays
	}
}

// WithFormat selects the snapshot format.
func WithFormat(format string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Snapshot.Format = format
	}
}

// WithConfig applies an arbitrary mutation.
func WithConfig(fn func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// WithStubbedScripts writes executable shell scripts into a bin directory
// under the test root and returns their paths through dst.
func WithStubbedScripts(dst map[string]string, scripts map[string]string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for name, body := range scripts {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
			dst[name] = target
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.BackupDir)
}
