package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"worldbackup/internal/config"
	"worldbackup/internal/daemon"
	"worldbackup/internal/diskmon"
	"worldbackup/internal/ipc"
	"worldbackup/internal/logging"
	"worldbackup/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	socketPath string
}

// setupCLITestEnv writes a config for a small world. No daemon is listening
// on socketPath until startDaemon is called.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	cfg := testsupport.NewConfig(t, opts...)
	testsupport.WriteWorld(t, cfg.Paths.WorldDir)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	// Unix socket paths are length-limited; keep it short.
	sockDir, err := os.MkdirTemp("", "wbcli")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		socketPath: filepath.Join(sockDir, "wb.sock"),
	}
}

// startDaemon opens the daemon for env and serves IPC on env.socketPath.
func (env *cliTestEnv) startDaemon(t *testing.T, serve bool) *daemon.Daemon {
	t.Helper()
	logger := logging.NewNop()
	d, err := daemon.Open(context.Background(), env.cfg, logger, daemon.WithStatFunc(func(string) (diskmon.Usage, error) {
		return diskmon.Usage{TotalBytes: 1 << 40, FreeBytes: 1 << 39}, nil
	}))
	if err != nil {
		t.Fatalf("daemon.Open: %v", err)
	}
	if !serve {
		t.Cleanup(func() { d.Close() })
		return d
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, env.socketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})
	time.Sleep(50 * time.Millisecond)
	return d
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	return runCLIContext(t, context.Background(), args, socket, configPath)
}

// runCLIContext executes the CLI under ctx. opts reach in-process
// daemon.Open calls.
func runCLIContext(t *testing.T, ctx context.Context, args []string, socket, configPath string, opts ...daemon.Option) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(opts...)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
