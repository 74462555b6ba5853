// Package ipc exposes the running daemon over JSON-RPC on a Unix socket.
//
// The CLI uses it for backup, prune, list, and status while the daemon holds
// the lock; without a daemon the CLI opens the components in-process instead.
package ipc
