// Package server coordinates the live game server around a snapshot window.
//
// The Coordinator owns the server state machine
// (running, quiescing, quiesced, resuming) and delegates the actual requests
// to a Control implementation: RCON for servers with a remote console, Exec
// for wrapper scripts, or Noop for offline worlds.
package server
