package daemon

import (
	"time"

	"worldbackup/internal/cycle"
	"worldbackup/internal/diskmon"
	"worldbackup/internal/notifications"
	"worldbackup/internal/server"
)

// Option customizes Open.
type Option func(*options)

type options struct {
	control       server.Control
	notifier      notifications.Service
	stat          diskmon.StatFunc
	reporters     []cycle.Reporter
	resumeBackoff time.Duration
}

// WithControl replaces the configured server driver.
func WithControl(control server.Control) Option {
	return func(o *options) { o.control = control }
}

// WithNotifier replaces the ntfy service.
func WithNotifier(svc notifications.Service) Option {
	return func(o *options) { o.notifier = svc }
}

// WithStatFunc replaces the backup-volume statfs call.
func WithStatFunc(fn diskmon.StatFunc) Option {
	return func(o *options) { o.stat = fn }
}

// WithReporters adds outcome reporters after the built-in ones.
func WithReporters(reporters ...cycle.Reporter) Option {
	return func(o *options) { o.reporters = append(o.reporters, reporters...) }
}

// WithResumeBackoff sets the initial delay between resume attempts.
func WithResumeBackoff(d time.Duration) Option {
	return func(o *options) { o.resumeBackoff = d }
}
