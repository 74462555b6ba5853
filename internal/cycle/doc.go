// Package cycle runs one backup cycle end to end and reports its outcome.
//
// A cycle measures the world, asks diskmon for admission, quiesces the
// server, writes the artifact, resumes the server, records the backup in the
// catalog, and finally applies retention. Exactly one Outcome is produced per
// cycle and handed to every Reporter (logs, ntfy, Prometheus).
package cycle
