package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"worldbackup/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var verbose bool
	var diagnostic bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the backup scheduler in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := logLevel
			if verbose {
				level = "debug"
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   level,
				Diagnostic: diagnostic,
				SocketPath: ctx.socketPath(),
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level=debug")
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Write a separate DEBUG JSON log alongside the run log")
	return cmd
}
