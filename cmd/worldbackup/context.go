package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"worldbackup/internal/config"
	"worldbackup/internal/daemon"
	"worldbackup/internal/daemonctl"
	"worldbackup/internal/ipc"
	"worldbackup/internal/logging"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	daemonOpts []daemon.Option
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil && strings.TrimSpace(*c.socketFlag) != "" {
		return *c.socketFlag
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.SocketPath()
	}
	return defaultSocketPath()
}

// withDaemon calls remote when the daemon socket answers. When nothing is
// listening it opens the daemon in-process, calls local, and closes it again.
func (c *commandContext) withDaemon(cmd *cobra.Command, remote func(*ipc.Client) error, local func(*daemon.Daemon) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err == nil {
		defer client.Close()
		return remote(client)
	}
	if !daemonAbsent(err) {
		return wrapDialError(err, socket)
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := cliLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	d, err := daemon.Open(cmd.Context(), cfg, logger, c.daemonOpts...)
	if errors.Is(err, daemon.ErrLocked) {
		return fmt.Errorf("%w (lock %s); a daemon may be running without its socket at %s", err, cfg.LockPath(), socket)
	}
	if err != nil {
		return fmt.Errorf("open world %s: %w", cfg.Paths.WorldName, err)
	}
	defer d.Close()
	return local(d)
}

// cliLogger keeps in-process runs quiet on stdout: warnings and errors go to
// stderr in the configured format.
func cliLogger(cfg *config.Config) (*slog.Logger, error) {
	handler, err := logging.NewHandler(logging.Options{
		Level:   "warn",
		Format:  cfg.Logging.Format,
		Outputs: []string{"stderr"},
	})
	if err != nil {
		return nil, err
	}
	return slog.New(handler), nil
}

func daemonAbsent(err error) bool {
	return daemonctl.Unavailable(err)
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `worldbackup daemon`", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func defaultSocketPath() string {
	cfg, _, _, err := config.Load("")
	if err == nil {
		return cfg.SocketPath()
	}
	stateDir, err := config.ExpandPath("~/.local/share/worldbackup")
	if err != nil {
		return filepath.Join(os.TempDir(), "worldbackup.sock")
	}
	return filepath.Join(stateDir, "worldbackup.sock")
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
