package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/language"
	"scribe/internal/queue"
	"scribe/internal/storage"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and maintain transcription jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsPurgeCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFlag string
		ownerEmail string
		deleted    bool
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlag)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				filter := queue.JobFilter{Statuses: statuses, IncludeDeleted: deleted, Limit: limit}
				if strings.TrimSpace(ownerEmail) != "" {
					owner, err := store.UserByEmail(cmd.Context(), ownerEmail)
					if err != nil {
						return err
					}
					if owner == nil {
						return fmt.Errorf("no user with email %q", ownerEmail)
					}
					filter.OwnerID = owner.ID
				}
				jobs, err := store.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromJobs(jobs))
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(jobs))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Comma-separated statuses to include")
	cmd.Flags().StringVar(&ownerEmail, "owner", "", "Only jobs owned by this email")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "Include jobs deleted by their owner")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderJobTable(jobs []*queue.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		status := string(job.Status)
		if job.IsDeleted() {
			status += " (deleted)"
		}
		progress := ""
		if job.Status == queue.StatusProcessing {
			progress = fmt.Sprintf("%s %.0f%%", job.ProgressStage, job.ProgressPercent)
		}
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			strconv.FormatInt(job.OwnerID, 10),
			job.Filename,
			status,
			progress,
			string(job.Tier),
			string(job.Mode),
			humanize.IBytes(uint64(max(job.SizeBytes, 0))),
			humanize.Time(job.CreatedAt),
		})
	}
	return renderTable([]column{
		{title: "ID", numeric: true},
		{title: "Owner", numeric: true},
		{title: "File"},
		{title: "Status"},
		{title: "Progress"},
		{title: "Tier"},
		{title: "Mode"},
		{title: "Size", numeric: true},
		{title: "Created"},
	}, rows)
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				job, err := store.GetJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}
				view := api.FromJob(job)
				if job.Status == queue.StatusCompleted {
					count, err := store.SegmentCount(cmd.Context(), id)
					if err != nil {
						return err
					}
					view.SegmentCount = &count
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				fmt.Fprint(cmd.OutOrStdout(), describeJob(job, view))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func describeJob(job *queue.Job, view api.Job) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%-14s %s\n", label+":", value)
		}
	}
	line("Job", strconv.FormatInt(job.ID, 10))
	line("File", job.Filename)
	line("Owner", strconv.FormatInt(job.OwnerID, 10))
	line("Status", string(job.Status))
	line("Tier", string(job.Tier))
	line("Mode", string(job.Mode))
	line("Language", language.DisplayName(job.SourceLanguage))
	if job.DetectedLanguage != "" {
		line("Detected", language.DisplayName(job.DetectedLanguage))
	}
	if job.TargetLanguage != "" {
		line("Translate to", language.DisplayName(job.TargetLanguage))
	}
	line("Restore audio", yesNo(job.RestoreAudio))
	line("Speakers", yesNo(job.SpeakerRecognition))
	line("Size", humanize.IBytes(uint64(max(job.SizeBytes, 0))))
	if job.DurationMS > 0 {
		line("Duration", (time.Duration(job.DurationMS) * time.Millisecond).Round(time.Second).String())
	}
	if job.ProgressStage != "" {
		line("Progress", fmt.Sprintf("%s %.0f%%", job.ProgressStage, job.ProgressPercent))
	}
	line("Attempts", strconv.Itoa(job.Attempts))
	if job.LeaseOwner != "" {
		line("Worker", job.LeaseOwner)
	}
	line("Failed stage", job.FailedStage)
	line("Error", job.Error)
	if view.SegmentCount != nil {
		line("Segments", strconv.Itoa(*view.SegmentCount))
	}
	line("Created", view.CreatedAt)
	line("Updated", view.UpdatedAt)
	if job.DeletedAt != nil {
		line("Deleted", api.FormatTime(*job.DeletedAt))
	}
	return b.String()
}

func newJobsPurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove tombstones of deleted jobs",
		Long: "Removes the rows of jobs their owners deleted before --older-than ago, " +
			"together with any transcript data and blobs still attached to them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return errors.New("--older-than must not be negative")
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				blobs, err := storage.New(cfg.Paths.StorageDir, 0)
				if err != nil {
					return fmt.Errorf("open object store: %w", err)
				}
				cutoff := time.Now().Add(-olderThan)
				swept, err := sweepDeleted(cmd, store, blobs, cutoff)
				if err != nil {
					return err
				}
				removed, err := store.PurgeDeleted(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d deleted job(s); removed %d leftover blob(s)\n", removed, swept)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 720*time.Hour, "Only purge jobs deleted at least this long ago")
	return cmd
}

// sweepDeleted clears transcript rows and blobs that a failed purge left
// behind on terminal tombstones older than cutoff.
func sweepDeleted(cmd *cobra.Command, store *queue.Store, blobs *storage.Store, cutoff time.Time) (int, error) {
	jobs, err := store.ListJobs(cmd.Context(), queue.JobFilter{
		IncludeDeleted: true,
		Statuses:       []queue.Status{queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled},
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, job := range jobs {
		if job.DeletedAt == nil || !job.DeletedAt.Before(cutoff) {
			continue
		}
		keys, err := store.PurgeJobData(cmd.Context(), job.ID)
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			exists, err := blobs.Exists(key)
			if err != nil || !exists {
				continue
			}
			if err := blobs.Delete(key); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warn: job %d: delete %s: %v\n", job.ID, key, err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func parseStatuses(value string) ([]queue.Status, error) {
	var statuses []queue.Status
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		status, ok := queue.ParseStatus(part)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", part)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
