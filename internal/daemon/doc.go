// Package daemon coordinates the long-running worldbackup process.
//
// Open takes the flock-based single-instance lock, reconciles the catalog,
// and wires the disk monitor, server coordinator, snapshot writer, retention
// evictor, and cycle runner into a scheduler. The same Daemon value serves
// in-process CLI invocations (backup, prune, list) and the foreground daemon;
// either way the lock is held for the Daemon's lifetime so two processes
// never write or prune the same backup directory.
package daemon
