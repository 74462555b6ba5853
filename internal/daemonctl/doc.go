// Package daemonctl starts and stops a detached worldbackup daemon process
// from the CLI, using the IPC socket to detect it and the pid file as a
// fallback for signalling.
package daemonctl
