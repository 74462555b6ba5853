package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"worldbackup/internal/cycle"
	"worldbackup/internal/daemon"
	"worldbackup/internal/ipc"
	"worldbackup/internal/scheduler"
)

var errBusy = errors.New("a backup or prune is already running")

func newBackupCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run one backup cycle now",
		Long: "Run one backup cycle now. The running daemon performs the cycle when its socket answers;\n" +
			"otherwise the cycle runs in this process. A skipped cycle is not an error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ipc.RunCycleResponse
			err := ctx.withDaemon(cmd,
				func(client *ipc.Client) error {
					r, err := client.RunCycle()
					if err != nil {
						return err
					}
					resp = *r
					return nil
				},
				func(d *daemon.Daemon) error {
					out, err := d.RunCycle(cmd.Context())
					if errors.Is(err, scheduler.ErrBusy) {
						resp.Busy = true
						return nil
					}
					if err != nil {
						return err
					}
					resp.Outcome = out
					resp.Fatal = out.Fatal()
					if out.Err != nil {
						resp.Error = out.Err.Error()
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
				if err := writeJSON(cmd, resp); err != nil {
					return err
				}
			} else {
				printOutcome(cmd.OutOrStdout(), resp.Outcome)
			}
			if resp.Outcome.Kind == cycle.Failed {
				if resp.Error != "" {
					return fmt.Errorf("backup failed: %s", resp.Error)
				}
				return errors.New("backup failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the cycle outcome as JSON")
	return cmd
}

func printOutcome(w io.Writer, out cycle.Outcome) {
	switch out.Kind {
	case cycle.Success:
		if out.Record != nil {
			fmt.Fprintf(w, "Backup %s written (%s, %s)\n",
				out.Record.ID, humanize.IBytes(uint64(max(out.Record.SizeBytes, 0))), out.Duration().Round(time.Millisecond))
			fmt.Fprintf(w, "Path: %s\n", out.Record.Path)
		} else {
			fmt.Fprintln(w, "Backup written")
		}
	case cycle.SkippedNoSpace, cycle.SkippedServerUnresponsive:
		fmt.Fprintf(w, "Backup skipped: %s\n", out.Reason)
	}
	for _, del := range out.Evicted {
		fmt.Fprintf(w, "Evicted %s (%s, %s)\n", del.Record.ID, del.Reason, humanize.IBytes(uint64(max(del.Record.SizeBytes, 0))))
	}
	if out.FloorConflict {
		fmt.Fprintln(w, "Warning: free-space floor not met; only protected backups remain")
	}
	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}
