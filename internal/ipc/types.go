package ipc

import (
	"worldbackup/internal/catalog"
	"worldbackup/internal/cycle"
	"worldbackup/internal/daemon"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon, catalog, and scheduler status.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
	PID    int           `json:"pid"`
}

// RunCycleRequest asks the daemon to run one backup cycle now.
type RunCycleRequest struct{}

// RunCycleResponse carries the finished cycle. Busy is set instead when a
// cycle or prune was already running.
type RunCycleResponse struct {
	Busy    bool          `json:"busy"`
	Outcome cycle.Outcome `json:"outcome"`
	// Error is the outcome's error text, which does not survive JSON.
	Error string `json:"error,omitempty"`
	Fatal bool   `json:"fatal"`
}

// PruneRequest applies or previews retention.
type PruneRequest struct {
	DryRun bool `json:"dry_run"`
}

// PruneResponse reports the prune result.
type PruneResponse struct {
	Busy   bool               `json:"busy"`
	Report daemon.PruneReport `json:"report"`
	Error  string             `json:"error,omitempty"`
}

// ListRequest fetches the catalog.
type ListRequest struct{}

// ListResponse contains catalog records, newest first.
type ListResponse struct {
	Backups []catalog.Record `json:"backups"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the test notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
