package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorcon/rcon"
	"golang.org/x/sys/unix"

	"worldbackup/internal/config"
	"worldbackup/internal/diskmon"
)

const rconCheckTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckWorldDirectory verifies the world can be read. Write access is not
// required; the server owns the world.
func CheckWorldDirectory(path string) Result {
	const name = "World directory"
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
}

// CheckBackupVolume compares free space on the backup volume with the
// current world size plus the safety margin.
func CheckBackupVolume(ctx context.Context, cfg *config.Config) Result {
	return checkBackupVolume(ctx, cfg, diskmon.New(cfg.WorldBackupDir(), cfg.SafetyMarginBytes()))
}

func checkBackupVolume(ctx context.Context, cfg *config.Config, monitor *diskmon.Monitor) Result {
	const name = "Backup volume"
	world, err := diskmon.DirSize(ctx, cfg.Paths.WorldDir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("measure world: %v", err)}
	}
	admission, err := monitor.Admit(ctx, world)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s free, next backup needs %s",
		humanize.IBytes(uint64(max(admission.FreeBytes, 0))),
		humanize.IBytes(uint64(admission.ExpectedBytes+admission.MarginBytes)))
	return Result{Name: name, Passed: admission.Allowed, Detail: detail}
}

// CheckRCON dials and authenticates against the server console.
func CheckRCON(ctx context.Context, address, password string) Result {
	const name = "Server control (rcon)"
	if address == "" {
		return Result{Name: name, Detail: "missing address"}
	}
	if password == "" {
		return Result{Name: name, Detail: "missing password"}
	}

	type dialResult struct {
		conn *rcon.Conn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := rcon.Dial(address, password, rcon.SetDialTimeout(rconCheckTimeout), rcon.SetDeadline(rconCheckTimeout))
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return Result{Name: name, Detail: fmt.Sprintf("%s (check cancelled)", address)}
	case res := <-done:
		if res.err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", address, summarizeRCONError(res.err))}
		}
		_ = res.conn.Close()
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (authenticated)", address)}
	}
}

// CheckExecutable verifies that an exec driver command resolves.
func CheckExecutable(name string, argv []string) Result {
	if len(argv) == 0 {
		return Result{Name: name, Detail: "not configured"}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", argv[0], err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

func summarizeRCONError(err error) string {
	if errors.Is(err, rcon.ErrAuthFailed) {
		return "authentication failed (check server.rcon_password)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "connection timed out"
	}
	return err.Error()
}
