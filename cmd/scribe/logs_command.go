package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"scribe/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		filter logs.Filter
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon logs",
		Long:  "Prints the current daemon log (scribe.log in paths.log_dir), optionally filtered and followed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if lines < 0 {
				return fmt.Errorf("--lines must not be negative")
			}
			out := cmd.OutOrStdout()
			path := filepath.Join(cfg.Paths.LogDir, "scribe.log")
			return logs.Follow(cmd.Context(), path, logs.FollowOptions{
				Lines:  lines,
				Follow: follow,
				Filter: filter,
			}, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().Int64Var(&filter.JobID, "job", 0, "Only lines for this job ID")
	cmd.Flags().StringVar(&filter.RequestID, "request", "", "Only lines for this request ID")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only lines from this component")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}
