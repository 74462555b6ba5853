// Package main hosts the worldbackup CLI entrypoint and command graph.
//
// Commands talk to a running daemon over its IPC socket. When no daemon is
// listening, backup, list, prune, status, and test-notify open the daemon
// components in-process for the duration of the command instead, holding the
// same single-instance lock a daemon would.
package main
