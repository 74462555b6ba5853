package preflight

import (
	"context"
	"strings"

	"worldbackup/internal/config"
)

// CheckServerControlFromConfig evaluates the configured server control driver.
func CheckServerControlFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "Server control", Detail: "Unknown"}
	}
	switch cfg.Server.Driver {
	case config.DriverRCON:
		return CheckRCON(ctx, cfg.Server.RCONAddress, cfg.Server.RCONPassword)
	case config.DriverExec:
		quiesce := CheckExecutable("Server control (exec quiesce)", cfg.Server.ExecQuiesce)
		if !quiesce.Passed {
			return quiesce
		}
		resume := CheckExecutable("Server control (exec resume)", cfg.Server.ExecResume)
		if !resume.Passed {
			return resume
		}
		return Result{Name: "Server control (exec)", Passed: true, Detail: quiesce.Detail + ", " + resume.Detail}
	default:
		return Result{Name: "Server control", Passed: true, Detail: "Disabled (world copied without quiescing)"}
	}
}

// CheckNotificationsFromConfig reports whether ntfy delivery is configured.
// It does not send anything.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"
	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return Result{Name: name, Detail: "ntfy_topic must be a full http(s) URL"}
	}
	return Result{Name: name, Passed: true, Detail: topic}
}
