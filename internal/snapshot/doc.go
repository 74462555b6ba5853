// Package snapshot writes world copies into backup artifacts.
//
// Two formats are supported: a gzip-compressed tarball committed with an
// atomic rename of a pending file, and a plain directory tree copied into a
// dot-prefixed partial directory and renamed into place. Either way the final
// name only ever refers to a complete, fsync'd artifact.
package snapshot
