// Package daemonrun hosts the foreground daemon process: signal handling,
// per-run log files, the pid file, the IPC socket, and the optional metrics
// listener around a daemon.Daemon.
package daemonrun
