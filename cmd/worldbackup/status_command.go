package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"worldbackup/internal/daemon"
	"worldbackup/internal/ipc"
	"worldbackup/internal/preflight"
)

type statusReport struct {
	DaemonRunning bool               `json:"daemon_running"`
	PID           int                `json:"pid,omitempty"`
	Status        daemon.Status      `json:"status"`
	Checks        []preflight.Result `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show world, catalog, and scheduler status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var report statusReport
			err = ctx.withDaemon(cmd,
				func(client *ipc.Client) error {
					resp, err := client.Status()
					if err != nil {
						return err
					}
					report.DaemonRunning = true
					report.PID = resp.PID
					report.Status = resp.Status
					return nil
				},
				func(d *daemon.Daemon) error {
					report.Status = d.Status(cmd.Context())
					return nil
				},
			)
			if err != nil {
				return err
			}
			report.Checks = preflight.RunAll(cmd.Context(), cfg)

			if jsonOutput {
				return writeJSON(cmd, report)
			}
			renderStatus(cmd.OutOrStdout(), report, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func renderStatus(out io.Writer, report statusReport, now time.Time) {
	p := newStatusPrinter(out)
	st := report.Status

	p.section("Daemon")
	if report.DaemonRunning {
		p.line("Daemon", statusOK, fmt.Sprintf("running (pid %d)", report.PID))
		next := "not scheduled"
		if !st.Scheduler.NextRun.IsZero() {
			next = fmt.Sprintf("%s (%s)", st.Scheduler.NextRun.Local().Format("2006-01-02 15:04:05"),
				humanize.RelTime(st.Scheduler.NextRun, now, "ago", "from now"))
		}
		p.line("Next backup", statusInfo, next)
		p.line("Cycles run", statusInfo, fmt.Sprintf("%d", st.Scheduler.Cycles))
		p.line("Cycle in progress", statusInfo, yesNo(st.Scheduler.Busy))
	} else {
		p.line("Daemon", statusWarn, "not running")
	}
	p.line("Server", statusInfo, st.ServerState)
	if last := st.Scheduler.LastOutcome; last != nil {
		p.outcome("Last cycle", *last)
	}
	fmt.Fprintln(out)

	p.section("World " + st.World)
	rows := [][]string{
		{"World directory", st.WorldDir},
		{"Backup directory", st.BackupDir},
		{"Backups", fmt.Sprintf("%d (%s)", st.Backups, humanize.IBytes(uint64(max(st.BackupBytes, 0))))},
		{"Free space", humanize.IBytes(uint64(max(st.FreeBytes, 0)))},
	}
	if st.Latest != nil {
		rows = append(rows, []string{"Latest backup", fmt.Sprintf("%s (%s)", st.Latest.ID,
			humanize.RelTime(st.Latest.CreatedAt, now, "ago", "from now"))})
	} else {
		rows = append(rows, []string{"Latest backup", "none"})
	}
	if st.CatalogIssues > 0 {
		rows = append(rows, []string{"Catalog repairs", fmt.Sprintf("%d at last open", st.CatalogIssues)})
	}
	fmt.Fprint(out, renderTable([]column{left("Field"), left("Value")}, rows))
	if st.CatalogProblem != "" {
		p.line("Catalog", statusError, st.CatalogProblem)
	}
	fmt.Fprintln(out)

	p.section("Checks")
	for _, result := range report.Checks {
		p.check(result)
	}
}
