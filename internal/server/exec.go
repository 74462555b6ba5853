package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"worldbackup/internal/logging"
)

// Exec controls the server by running external commands, for servers that
// are managed by a wrapper script or a process supervisor.
type Exec struct {
	quiesce []string
	resume  []string
	logger  *slog.Logger
}

// NewExec builds an Exec control from two argv lists.
func NewExec(quiesce, resume []string, logger *slog.Logger) *Exec {
	return &Exec{quiesce: quiesce, resume: resume, logger: logging.NewComponentLogger(logger, "exec-control")}
}

func (e *Exec) RequestQuiesce(ctx context.Context) error { return e.run(ctx, e.quiesce) }

func (e *Exec) RequestResume(ctx context.Context) error { return e.run(ctx, e.resume) }

// RevertQuiesce runs the resume command.
func (e *Exec) RevertQuiesce(ctx context.Context) error { return e.run(ctx, e.resume) }

func (e *Exec) run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("exec control: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	var stderr bytes.Buffer
	var stdout bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		return fmt.Errorf("%s: %w: %s", argv[0], err, detail)
	}
	e.logger.Debug("control command finished",
		logging.String("command", strings.Join(argv, " ")),
		logging.String("stdout", strings.TrimSpace(stdout.String())),
	)
	return nil
}
