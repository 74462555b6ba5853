package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"worldbackup/internal/catalog"
	"worldbackup/internal/daemon"
	"worldbackup/internal/ipc"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cataloged backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var backups []catalog.Record
			err := ctx.withDaemon(cmd,
				func(client *ipc.Client) error {
					resp, err := client.List()
					if err != nil {
						return err
					}
					backups = resp.Backups
					return nil
				},
				func(d *daemon.Daemon) error {
					backups = d.List()
					return nil
				},
			)
			if err != nil {
				return err
			}

			if jsonOutput {
				if backups == nil {
					backups = []catalog.Record{}
				}
				return writeJSON(cmd, backups)
			}
			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintln(out, "No backups")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]column{left("ID"), left("Created"), left("Age"), right("Size"), left("Format")},
				backupRows(backups, time.Now()),
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the catalog as JSON")
	return cmd
}

func backupRows(backups []catalog.Record, now time.Time) [][]string {
	rows := make([][]string, 0, len(backups))
	for _, rec := range backups {
		rows = append(rows, []string{
			rec.ID,
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
			humanize.IBytes(uint64(max(rec.SizeBytes, 0))),
			rec.Format,
		})
	}
	return rows
}
