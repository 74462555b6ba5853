package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorcon/rcon"

	"worldbackup/internal/logging"
)

const defaultRCONDialTimeout = 5 * time.Second

// Commander executes console commands over an open RCON session.
type Commander interface {
	Execute(command string) (string, error)
	Close() error
}

// Dialer opens an authenticated RCON session. timeout bounds both the dial
// and every command round trip.
type Dialer func(address, password string, timeout time.Duration) (Commander, error)

// RCONOptions configures the RCON control.
type RCONOptions struct {
	Address         string
	Password        string
	QuiesceCommands []string
	ResumeCommands  []string
	// Settle is waited after the quiesce commands so the server finishes
	// flushing chunks that save-all queued.
	Settle      time.Duration
	DialTimeout time.Duration
	Dial        Dialer
}

// RCON drives a Minecraft-style server through its remote console.
type RCON struct {
	opts   RCONOptions
	logger *slog.Logger
}

// NewRCON builds an RCON control. A fresh session is opened per request so a
// server restart between cycles never leaves a stale connection behind.
func NewRCON(opts RCONOptions, logger *slog.Logger) *RCON {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultRCONDialTimeout
	}
	if opts.Dial == nil {
		opts.Dial = dialRCON
	}
	return &RCON{opts: opts, logger: logging.NewComponentLogger(logger, "rcon")}
}

func dialRCON(address, password string, timeout time.Duration) (Commander, error) {
	return rcon.Dial(address, password, rcon.SetDialTimeout(timeout), rcon.SetDeadline(timeout))
}

// RequestQuiesce sends the quiesce commands and waits out the settle delay.
func (r *RCON) RequestQuiesce(ctx context.Context) error {
	if err := r.run(ctx, r.opts.QuiesceCommands); err != nil {
		return err
	}
	if r.opts.Settle <= 0 {
		return nil
	}
	timer := time.NewTimer(r.opts.Settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestResume sends the resume commands.
func (r *RCON) RequestResume(ctx context.Context) error {
	return r.run(ctx, r.opts.ResumeCommands)
}

// RevertQuiesce re-enables autosave after an abandoned quiesce.
func (r *RCON) RevertQuiesce(ctx context.Context) error {
	return r.run(ctx, r.opts.ResumeCommands)
}

func (r *RCON) run(ctx context.Context, commands []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := r.opts.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- r.execute(ctx, commands, timeout)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RCON) execute(ctx context.Context, commands []string, timeout time.Duration) error {
	conn, err := r.opts.Dial(r.opts.Address, r.opts.Password, timeout)
	if err != nil {
		return fmt.Errorf("rcon dial %s: %w", r.opts.Address, err)
	}
	defer conn.Close()

	for _, command := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		response, err := conn.Execute(command)
		if err != nil {
			return fmt.Errorf("rcon %q: %w", command, err)
		}
		if rejected(response) {
			return fmt.Errorf("rcon %q: %w: %s", command, errCommandRejected, strings.TrimSpace(response))
		}
		r.logger.Debug("rcon command acknowledged",
			logging.String("command", command),
			logging.String("response", strings.TrimSpace(response)),
		)
	}
	return nil
}

var errCommandRejected = errors.New("command rejected")

func rejected(response string) bool {
	lower := strings.ToLower(response)
	return strings.HasPrefix(lower, "unknown command") || strings.HasPrefix(lower, "unknown or incomplete command")
}
