package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/daemonctl"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, storage and engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderStatus(status, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderStatus(status *api.DaemonStatus, colorize bool) string {
	var b strings.Builder

	daemonLine := "not running"
	if status.Running {
		daemonLine = fmt.Sprintf("running (pid %d", status.PID)
		if status.Instance != "" {
			daemonLine += ", instance " + status.Instance
		}
		daemonLine += ")"
	}
	fmt.Fprintf(&b, "Daemon:    %s\n", daemonLine)
	fmt.Fprintf(&b, "Workers:   %d (%d busy)\n", status.Workers, len(status.Active))
	fmt.Fprintf(&b, "Queue:     %d paid, %d free\n", status.Queue.Paid, status.Queue.Free)

	storageLine := status.Storage.Error
	if storageLine == "" {
		storageLine = fmt.Sprintf("%s free of %s (%s)",
			humanize.IBytes(status.Storage.FreeBytes),
			humanize.IBytes(status.Storage.TotalBytes),
			status.Storage.Root)
	}
	fmt.Fprintf(&b, "Storage:   %s\n", storageLine)

	engineLine := "reachable"
	if !status.Engine.Reachable {
		engineLine = "unreachable"
		if status.Engine.Detail != "" {
			engineLine += ": " + status.Engine.Detail
		}
	}
	fmt.Fprintf(&b, "Engine:    %s %s\n", status.Engine.Endpoint, engineLine)
	fmt.Fprintf(&b, "Database:  %s\n", status.DatabasePath)
	if status.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", status.LastError)
	}

	if len(status.JobCounts) > 0 {
		names := make([]string, 0, len(status.JobCounts))
		for name := range status.JobCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, strconv.Itoa(status.JobCounts[name])})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]column{{title: "Status"}, {title: "Jobs", numeric: true}}, rows))
		b.WriteString("\n")
	}

	if len(status.Active) > 0 {
		rows := make([][]string, 0, len(status.Active))
		for _, active := range status.Active {
			rows = append(rows, []string{strconv.FormatInt(active.JobID, 10), active.Worker, active.StartedAt})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]column{{title: "Job", numeric: true}, {title: "Worker"}, {title: "Started"}}, rows))
		b.WriteString("\n")
	}

	if len(status.Dependencies) > 0 {
		rows := make([][]string, 0, len(status.Dependencies))
		for _, dep := range status.Dependencies {
			rows = append(rows, []string{dep.Name, dep.Command, severityLabel(daemonctl.Severity(dep), colorize), dep.Detail})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]column{{title: "Dependency"}, {title: "Command"}, {title: "State"}, {title: "Detail"}}, rows))
		b.WriteString("\n")
	}
	return b.String()
}

func severityLabel(severity string, colorize bool) string {
	if !colorize {
		return severity
	}
	switch severity {
	case "ok":
		return text.FgGreen.Sprint(severity)
	case "warn":
		return text.FgYellow.Sprint(severity)
	default:
		return text.FgRed.Sprint(severity)
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
