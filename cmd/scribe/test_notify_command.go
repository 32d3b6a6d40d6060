package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/queue"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	var recipient string

	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				notifier := notifications.NewService(cfg, store, logging.NewNop())
				if !notifier.Enabled() {
					fmt.Fprintln(cmd.OutOrStdout(), "No notification channel configured")
					return nil
				}
				if err := notifier.TestNotification(cmd.Context(), recipient); err != nil {
					return fmt.Errorf("send test notification: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "to", "", "Email recipient for the test message (requires SendGrid settings)")
	return cmd
}
