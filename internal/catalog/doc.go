// Package catalog keeps the durable record of backups for one world.
//
// Artifacts are named after their UTC creation timestamp so identity can be
// recovered from the directory alone. Metadata lives in a small SQLite file
// next to the artifacts, but it is never trusted over the filesystem: Open
// reconciles the two with the pure Reconcile function, adopting orphan
// artifacts and dropping records whose artifact disappeared.
package catalog
