package preflight

import (
	"context"

	"worldbackup/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every preflight check that applies to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckWorldDirectory(cfg.Paths.WorldDir),
		CheckDirectoryAccess("Backup directory", cfg.WorldBackupDir()),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckBackupVolume(ctx, cfg),
	}

	// The server check dials out; skip it when nothing is configured.
	if cfg.Server.Driver != config.DriverNone {
		results = append(results, CheckServerControlFromConfig(ctx, cfg))
	}
	return results
}

// Failed filters results down to failures.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
