package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"clipforge/internal/fileutil"
	"clipforge/internal/ipc"
	"clipforge/internal/jobs"
	"clipforge/internal/store"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a source video and record an uploaded job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			return ctx.withLocal(func(l *localServices) error {
				staged, copied, err := stageUpload(l.cfg.Paths.UploadDir, userID, source)
				if err != nil {
					return err
				}
				raw, err := json.Marshal(map[string]any{
					"original_name": filepath.Base(source),
					"sha256":        copied.SHA256,
				})
				if err != nil {
					return fmt.Errorf("encode upload metadata: %w", err)
				}
				job, err := l.manager.CreateFromUpload(cmd.Context(), jobs.UploadEvent{
					UserID:      userID,
					Path:        staged,
					Size:        copied.Size,
					RawMetadata: string(raw),
				})
				if err != nil {
					_ = os.Remove(staged)
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as job %s (%s)\n", filepath.Base(source), job.ID, formatBytes(job.InputSize))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the upload")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// stageUpload copies source into the user's upload directory under a fresh
// name and returns the staged path.
func stageUpload(uploadDir, userID, source string) (string, fileutil.CopyResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return "", fileutil.CopyResult{}, fmt.Errorf("invalid user id %q", userID)
	}
	info, err := os.Stat(source)
	if err != nil {
		return "", fileutil.CopyResult{}, fmt.Errorf("inspect %s: %w", source, err)
	}
	if info.IsDir() {
		return "", fileutil.CopyResult{}, fmt.Errorf("%s is a directory", source)
	}
	dir := filepath.Join(uploadDir, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fileutil.CopyResult{}, fmt.Errorf("create upload dir: %w", err)
	}
	dest := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(source)))
	copied, err := fileutil.CopyFileVerified(source, dest)
	if err != nil {
		_ = os.Remove(dest)
		return "", fileutil.CopyResult{}, fmt.Errorf("store upload: %w", err)
	}
	return dest, copied, nil
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var req ipc.ProcessRequest
	var wait bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "process <job-id>",
		Short: "Charge a job and cut it into clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.JobID = strings.TrimSpace(args[0])
			var job *ipc.Job
			if err := ctx.withClient(func(client *ipc.Client) error {
				queued, err := client.Process(cmd.Context(), req)
				job = queued
				return err
			}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ctx.jsonOutput() {
				fmt.Fprintf(out, "Job %s is %s; charged %d credits\n", job.ID, job.Status, job.CreditsCharged)
			}
			if !wait {
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				return nil
			}
			return ctx.withLocal(func(l *localServices) error {
				final, err := waitForJob(cmd, l, job.ID, interval, out, !ctx.jsonOutput())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, final)
				}
				return printJobOutcome(out, final)
			})
		},
	}
	cmd.Flags().StringVarP(&req.UserID, "user", "u", "", "Require the job to belong to this user")
	cmd.Flags().IntVar(&req.RequestedSeconds, "clip-seconds", 0, "Clip length in seconds (default from config)")
	cmd.Flags().IntVar(&req.CustomSeconds, "custom-seconds", 0, "Custom clip length that overrides --clip-seconds")
	cmd.Flags().BoolVar(&req.Subtitles, "subtitles", false, "Request subtitles on the clips")
	cmd.Flags().IntVar(&req.ClipCount, "clip-count", 0, "Expected clip count (advisory)")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the job to finish")
	cmd.Flags().DurationVar(&interval, "poll-interval", time.Second, "How often to check job progress while waiting")
	return cmd
}

// waitForJob polls the job row until it reaches a terminal status.
func waitForJob(cmd *cobra.Command, l *localServices, jobID string, interval time.Duration, out io.Writer, showProgress bool) (*store.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	lastProgress := -1
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := l.manager.Get(cmd.Context(), jobID)
		if err != nil {
			return nil, l.fail(cmd, err)
		}
		if showProgress && job.Progress != lastProgress {
			fmt.Fprintf(out, "  %3d%% %s\n", job.Progress, job.Status)
			lastProgress = job.Progress
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func printJobOutcome(out io.Writer, job *store.Job) error {
	switch job.Status {
	case store.JobCompleted:
		fmt.Fprintf(out, "Job %s completed with %d clips\n", job.ID, len(job.Outputs))
		for _, name := range job.Outputs {
			fmt.Fprintf(out, "  %s\n", name)
		}
		return nil
	case store.JobCancelled:
		fmt.Fprintf(out, "Job %s was cancelled\n", job.ID)
		return nil
	default:
		return fmt.Errorf("job %s %s: %s", job.ID, job.Status, job.ErrorMessage)
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var statuses []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := store.JobFilter{UserID: strings.TrimSpace(userID), Limit: limit}
			for _, raw := range statuses {
				status, ok := store.ParseJobStatus(raw)
				if !ok {
					return fmt.Errorf("unknown job status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withLocal(func(l *localServices) error {
				list, err := l.manager.List(cmd.Context(), filter)
				if err != nil {
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs found")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, len(list))
				for _, job := range list {
					rows = append(rows, []string{
						job.ID,
						job.UserID,
						displayLabel(string(job.Status)),
						fmt.Sprintf("%d%%", job.Progress),
						formatSeconds(job.DurationSeconds),
						fmt.Sprintf("%d", job.CreditsCharged),
						formatAge(job.CreatedAt, now),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "User", "Status", "Progress", "Duration", "Credits", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
					!isTerminal(out),
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only jobs owned by this user")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job and its clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(l *localServices) error {
				job, err := l.manager.Get(cmd.Context(), args[0])
				if err != nil {
					return l.fail(cmd, err)
				}
				clips, err := l.manager.Clips(cmd.Context(), job.ID)
				if err != nil {
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"job": job, "clips": clips})
				}
				out := cmd.OutOrStdout()
				now := time.Now()
				fmt.Fprintf(out, "Job:       %s\n", job.ID)
				fmt.Fprintf(out, "User:      %s\n", job.UserID)
				fmt.Fprintf(out, "Status:    %s (%d%%)\n", displayLabel(string(job.Status)), job.Progress)
				fmt.Fprintf(out, "Input:     %s (%s)\n", job.InputPath, formatBytes(job.InputSize))
				fmt.Fprintf(out, "Duration:  %s\n", formatSeconds(job.DurationSeconds))
				if job.ClipSeconds > 0 {
					fmt.Fprintf(out, "Clip len:  %ds\n", job.ClipSeconds)
				}
				fmt.Fprintf(out, "Subtitles: %s\n", yesNo(job.Subtitles))
				fmt.Fprintf(out, "Credits:   %d\n", job.CreditsCharged)
				fmt.Fprintf(out, "Created:   %s\n", formatAge(job.CreatedAt, now))
				if job.CompletedAt != nil {
					fmt.Fprintf(out, "Completed: %s\n", formatAge(*job.CompletedAt, now))
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
				}
				if len(clips) > 0 {
					fmt.Fprintln(out)
					fmt.Fprint(out, renderClipTable(clips, now, !isTerminal(out)))
				}
				return nil
			})
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel an uploaded or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(l *localServices) error {
				job, err := l.manager.Cancel(cmd.Context(), args[0])
				if err != nil {
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", job.ID)
				return nil
			})
		},
	}
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job with its clips and files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(l *localServices) error {
				result, err := l.manager.Delete(cmd.Context(), args[0])
				if err != nil {
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"job_id":        result.Job.ID,
						"clips_removed": result.ClipsRemoved,
						"files_removed": result.FilesRemoved,
						"file_failures": result.FileFailures,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s deleted (%d clips, %d files removed)\n", result.Job.ID, result.ClipsRemoved, result.FilesRemoved)
				if result.FileFailures > 0 {
					fmt.Fprintf(out, "%d files could not be removed; the orphan sweep will retry\n", result.FileFailures)
				}
				return nil
			})
		},
	}
}

func newClipsCommand(ctx *commandContext) *cobra.Command {
	clipsCmd := &cobra.Command{
		Use:   "clips",
		Short: "Inspect produced clips",
	}

	var filter store.ClipFilter
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List clips for a job or user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(filter.JobID) == "" && strings.TrimSpace(filter.UserID) == "" {
				return errors.New("specify --job or --user")
			}
			return ctx.withLocal(func(l *localServices) error {
				var clips []*store.Clip
				var err error
				if filter.JobID != "" && !filter.IncludeArchived && filter.UserID == "" {
					clips, err = l.manager.Clips(cmd.Context(), filter.JobID)
				} else {
					clips, err = l.store.ListClips(cmd.Context(), filter)
				}
				if err != nil {
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, clips)
				}
				out := cmd.OutOrStdout()
				if len(clips) == 0 {
					fmt.Fprintln(out, "No clips found")
					return nil
				}
				fmt.Fprint(out, renderClipTable(clips, time.Now(), !isTerminal(out)))
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&filter.JobID, "job", "", "Clips of this job")
	listCmd.Flags().StringVarP(&filter.UserID, "user", "u", "", "Clips owned by this user")
	listCmd.Flags().BoolVar(&filter.IncludeArchived, "archived", false, "Include archived clips")
	listCmd.Flags().IntVar(&filter.Limit, "limit", 100, "Maximum clips to list")
	clipsCmd.AddCommand(listCmd)
	return clipsCmd
}

func renderClipTable(clips []*store.Clip, now time.Time, plain bool) string {
	rows := make([][]string, 0, len(clips))
	for _, clip := range clips {
		state := "live"
		if clip.Archived {
			state = "archived"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d/%d", clip.Metadata.SegmentIndex, clip.Metadata.SegmentTotal),
			clip.Filename,
			formatSeconds(clip.DurationSeconds),
			formatBytes(clip.SizeBytes),
			state,
			formatAge(clip.ExpiresAt, now),
			shortID(clip.JobID),
		})
	}
	return renderTable(
		[]string{"Segment", "File", "Length", "Size", "State", "Expires", "Job"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
		plain,
	)
}
