package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipforge/internal/ipc"
	"clipforge/internal/preflight"
	"clipforge/internal/reclaimer"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run maintenance sweeps in the daemon",
	}
	sweepCmd.AddCommand(&cobra.Command{
		Use:         "list",
		Short:       "List the available sweeps",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range reclaimer.SweepNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	sweepCmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run one sweep now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToLower(strings.TrimSpace(args[0]))
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunSweep(cmd.Context(), name)
				if err != nil {
					var fault *ipc.Fault
					if errors.As(err, &fault) {
						return fmt.Errorf("sweep %s failed: %w", name, fault)
					}
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				printSweepResult(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	})
	return sweepCmd
}

func printSweepResult(out io.Writer, resp *ipc.SweepResponse) {
	if resp.Skipped {
		fmt.Fprintf(out, "Sweep %s skipped: %s\n", resp.Sweep, resp.Detail)
		return
	}
	fmt.Fprintf(out, "Sweep %s: examined %d, removed %d", resp.Sweep, resp.Examined, resp.Removed)
	if resp.Bytes > 0 {
		fmt.Fprintf(out, ", freed %s", formatBytes(resp.Bytes))
	}
	fmt.Fprintf(out, " in %s\n", resp.Elapsed.Round(time.Millisecond))
	if resp.Detail != "" {
		fmt.Fprintf(out, "  %s\n", resp.Detail)
	}
	for _, warning := range resp.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", warning)
	}
}

func newErrorsCommand(ctx *commandContext) *cobra.Command {
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect handled errors",
	}
	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent handled errors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := recentErrors(cmd, ctx, limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No errors recorded")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					shortID(entry.ID),
					formatAge(entry.Timestamp, now),
					displayLabel(entry.Type),
					displayLabel(entry.Severity),
					entry.Message,
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"ID", "When", "Type", "Severity", "Message"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				!isTerminal(out),
			))
			return nil
		},
	}
	recent.Flags().IntVar(&limit, "limit", 20, "Maximum errors to list")
	errorsCmd.AddCommand(recent)
	return errorsCmd
}

// recentErrors prefers the daemon's in-memory buffer and falls back to the
// persisted records when the daemon is offline.
func recentErrors(cmd *cobra.Command, ctx *commandContext, limit int) ([]ipc.ErrorEntry, error) {
	if client, err := ctx.dialClient(); err == nil {
		defer client.Close()
		entries, callErr := client.RecentErrors(cmd.Context(), limit)
		if callErr == nil {
			return entries, nil
		}
	}
	var entries []ipc.ErrorEntry
	err := ctx.withLocal(func(l *localServices) error {
		records, err := l.store.RecentErrorRecords(cmd.Context(), limit)
		if err != nil {
			return err
		}
		for _, record := range records {
			message := record.UserMessage
			if message == "" {
				message = record.Message
			}
			entries = append(entries, ipc.ErrorEntry{
				ID:        record.ID,
				Type:      record.Type,
				Severity:  record.Severity,
				Code:      record.Code,
				Message:   message,
				Timestamp: record.CreatedAt,
			})
		}
		return nil
	})
	return entries, err
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, dependencies, and free space",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := isTerminal(out)
				for _, line := range renderSectionHeader("Doctor", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, result := range results {
					fmt.Fprintln(out, renderStatusLine(result.Name, preflightKind(result), result.Detail, colorize))
				}
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				names := make([]string, 0, len(failed))
				for _, result := range failed {
					names = append(names, result.Name)
				}
				return fmt.Errorf("%d check(s) failed: %s", len(failed), strings.Join(names, ", "))
			}
			return nil
		},
	}
}

func preflightKind(result preflight.Result) statusKind {
	switch {
	case result.Passed:
		return statusOK
	case result.Advisory:
		return statusWarn
	default:
		return statusError
	}
}
