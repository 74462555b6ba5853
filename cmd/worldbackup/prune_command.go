package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"worldbackup/internal/daemon"
	"worldbackup/internal/ipc"
	"worldbackup/internal/scheduler"
)

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ipc.PruneResponse
			err := ctx.withDaemon(cmd,
				func(client *ipc.Client) error {
					r, err := client.Prune(dryRun)
					if err != nil {
						return err
					}
					resp = *r
					return nil
				},
				func(d *daemon.Daemon) error {
					report, err := d.Prune(cmd.Context(), dryRun)
					if errors.Is(err, scheduler.ErrBusy) {
						resp.Busy = true
						return nil
					}
					resp.Report = report
					if err != nil {
						resp.Error = err.Error()
					}
					return nil
				},
			)
			if err != nil {
				return err
			}
			if resp.Busy {
				return errBusy
			}

			if jsonOutput {
				if err := writeJSON(cmd, resp.Report); err != nil {
					return err
				}
			} else {
				printPruneReport(cmd, resp.Report)
			}
			if resp.Error != "" {
				return fmt.Errorf("prune: %s", resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be deleted without deleting anything")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the prune report as JSON")
	return cmd
}

func printPruneReport(cmd *cobra.Command, report daemon.PruneReport) {
	out := cmd.OutOrStdout()
	verb := "Deleted"
	if report.DryRun {
		verb = "Would delete"
	}
	if len(report.Deleted) == 0 {
		fmt.Fprintln(out, "Nothing to prune")
	} else {
		rows := make([][]string, 0, len(report.Deleted))
		for _, del := range report.Deleted {
			rows = append(rows, []string{
				del.Record.ID,
				string(del.Reason),
				humanize.IBytes(uint64(max(del.Record.SizeBytes, 0))),
			})
		}
		fmt.Fprintf(out, "%s %d backup(s):\n", verb, len(report.Deleted))
		fmt.Fprint(out, renderTable([]column{left("ID"), left("Reason"), right("Size")}, rows))
	}
	fmt.Fprintf(out, "Kept: %d\n", report.Kept)
	fmt.Fprintf(out, "Free space: %s\n", humanize.IBytes(uint64(max(report.FreeBytes, 0))))
	if report.FloorConflict {
		fmt.Fprintln(out, "Warning: free-space floor not met; only protected backups remain")
	}
}
