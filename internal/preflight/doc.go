// Package preflight provides readiness checks for the paths, volume, and
// server console that worldbackup depends on.
//
// The daemon logs RunAll results at startup; failures are warnings, since a
// server that is down now may be up by the first cycle. The CLI "status"
// command renders the same results as a table.
package preflight
