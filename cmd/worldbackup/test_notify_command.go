package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"worldbackup/internal/daemon"
	"worldbackup/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp *ipc.TestNotificationResponse
			err := ctx.withDaemon(cmd,
				func(client *ipc.Client) error {
					r, err := client.TestNotification()
					resp = r
					return err
				},
				func(d *daemon.Daemon) error {
					sent, message, err := d.TestNotification(cmd.Context())
					resp = &ipc.TestNotificationResponse{Sent: sent, Message: message}
					return err
				},
			)
			if err != nil {
				if resp != nil && resp.Message != "" {
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				}
				return err
			}
			if resp == nil {
				return errors.New("missing notification response")
			}
			switch {
			case resp.Message != "":
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			case resp.Sent:
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
			}
			return nil
		},
	}
}
