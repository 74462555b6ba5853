// Package config loads, normalizes, and validates worldbackup configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// WORLDBACKUP_RCON_PASSWORD. Human-readable sizes ("1 GiB") are accepted for
// the admission margin and the retention free-space floor.
package config
