package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"worldbackup/internal/ipc"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions are forwarded to the `worldbackup daemon` child.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	Diagnostic bool
}

func (o LaunchOptions) args() []string {
	args := []string{"daemon"}
	for _, flag := range []struct{ name, value string }{
		{"--socket", o.SocketPath},
		{"--config", o.ConfigPath},
	} {
		if value := strings.TrimSpace(flag.value); value != "" {
			args = append(args, flag.name, value)
		}
	}
	if o.Diagnostic {
		args = append(args, "--diagnostic")
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult reports whether start launched a process and which pid serves
// the socket.
type StartResult struct {
	State StartState
	PID   int
}

// ErrDaemonNotRunning is returned by stop when nothing answers on the socket.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Unavailable reports whether a dial error means no daemon is listening, as
// opposed to a permission or protocol problem.
func Unavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// Launch starts a detached daemon in its own session and returns its pid.
func Launch(executablePath string, opts LaunchOptions) (int, error) {
	if strings.TrimSpace(executablePath) == "" {
		return 0, errors.New("launch daemon: executable path is empty")
	}
	proc := exec.Command(executablePath, opts.args()...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return 0, fmt.Errorf("launch daemon: %w", err)
	}
	pid := proc.Process.Pid
	if err := proc.Process.Release(); err != nil {
		return pid, fmt.Errorf("release daemon process %d: %w", pid, err)
	}
	return pid, nil
}

// poll retries probe every pollInterval until it succeeds or timeout passes.
func poll[T any](timeout time.Duration, probe func() (T, error)) (T, error) {
	return backoff.Retry(context.Background(), probe,
		backoff.WithBackOff(backoff.NewConstantBackOff(pollInterval)),
		backoff.WithMaxElapsedTime(timeout),
	)
}

// WaitForClient dials the socket until the daemon answers.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	client, err := poll(timeout, func() (*ipc.Client, error) {
		return ipc.Dial(socketPath)
	})
	if err != nil {
		return nil, fmt.Errorf("daemon did not answer on %s within %s: %w", socketPath, timeout, err)
	}
	return client, nil
}

// WaitForShutdown returns nil once the socket stops answering.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	_, err := poll(timeout, func() (struct{}, error) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if Unavailable(err) {
				return struct{}{}, nil
			}
			return struct{}{}, err
		}
		_ = client.Close()
		return struct{}{}, errors.New("daemon still answering")
	})
	if err != nil {
		return fmt.Errorf("daemon did not stop within %s: %w", timeout, err)
	}
	return nil
}

// EnsureStarted launches the daemon unless its socket already answers.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	result := StartResult{State: StartStateAlreadyRunning}
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if !Unavailable(err) {
			return StartResult{}, err
		}
		pid, err := Launch(executablePath, opts)
		if err != nil {
			return StartResult{}, err
		}
		result = StartResult{State: StartStateStarted, PID: pid}
		if client, err = WaitForClient(socketPath, waitTimeout); err != nil {
			return result, err
		}
	}
	defer client.Close()

	if status, err := client.Status(); err == nil && status.PID > 0 {
		result.PID = status.PID
	}
	return result, nil
}

// StopResult describes how the daemon went away.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// StopAndTerminate sends SIGTERM to the daemon, which finishes or abandons
// the in-flight cycle and resumes the server before exiting. If the socket is
// still answering after gracePeriod the process is killed.
func StopAndTerminate(socketPath, pidPath string, gracePeriod time.Duration) (StopResult, error) {
	pid, err := daemonPID(socketPath, pidPath)
	if err != nil {
		return StopResult{}, err
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return StopResult{}, fmt.Errorf("find daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return StopResult{}, fmt.Errorf("send SIGTERM to %d: %w", pid, err)
	}

	result := StopResult{PID: pid}
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}
	if err := proc.Kill(); err != nil {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	// A killed daemon leaves its socket and pid file behind.
	for _, path := range []string{socketPath, pidPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return result, fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return result, nil
}

// daemonPID asks the running daemon for its pid and falls back to the pid
// file when the status call fails.
func daemonPID(socketPath, pidPath string) (int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if Unavailable(err) {
			return 0, ErrDaemonNotRunning
		}
		return 0, err
	}
	status, statusErr := client.Status()
	_ = client.Close()
	if statusErr == nil && status.PID > 0 {
		return status.PID, nil
	}

	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, fmt.Errorf("read pid file %s: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s does not hold a pid", pidPath)
	}
	return pid, nil
}
