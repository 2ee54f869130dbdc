package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"clipforge/internal/daemonctl"
	"clipforge/internal/daemonrun"
	"clipforge/internal/ipc"
	"clipforge/internal/store"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the clipforge daemon",
	}
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonRestartCommand(ctx))
	daemonCmd.AddCommand(newStatusCommand(ctx))
	return daemonCmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.socketPath(), exe, daemonLaunchOptions(ctx, logLevel), 10*time.Second)
			if err != nil {
				return err
			}
			printStartResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cmd.Context(), cfg, 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon ignored SIGTERM; killed process %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
}

func newDaemonRestartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.Restart(cmd.Context(), cfg, exe, daemonLaunchOptions(ctx, logLevel), 10*time.Second, 10*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.WasRunning {
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			printStartResult(stdout, result.Start)
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func printStartResult(out io.Writer, result daemonctl.StartResult) {
	if result.Launched {
		fmt.Fprintln(out, "Daemon not running, launching...")
	}
	switch result.State {
	case daemonctl.StartStateStarted:
		fmt.Fprintln(out, "Daemon started")
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintln(out, "Daemon already running")
	case daemonctl.StartStateIdle:
		fmt.Fprintf(out, "Daemon is up but idle: %s\n", result.Message)
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, job, and maintenance status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status, time.Now())
			return nil
		},
	}
}

func renderStatus(out io.Writer, status *ipc.StatusResponse, now time.Time) {
	colorize := isTerminal(out)
	plain := !colorize

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	switch {
	case status.Running:
		fmt.Fprintln(out, renderStatusLine("clipforged", statusOK,
			fmt.Sprintf("Running (pid %d, started %s)", status.PID, formatAge(status.StartedAt, now)), colorize))
		fmt.Fprintln(out, renderStatusLine("Workers", statusInfo,
			fmt.Sprintf("%d workers, %d active, %d queued", status.Workers, status.Active, status.Queued), colorize))
	case status.StartError != "":
		fmt.Fprintln(out, renderStatusLine("clipforged", statusError, "Idle: "+status.StartError, colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("clipforged", statusWarn, "Not running (run `clipforge daemon start`)", colorize))
	}
	if status.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last job error", statusWarn, status.LastError, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	summary := daemonctl.BuildDependencySummary(status.Dependencies)
	fmt.Fprintln(out, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	for _, dep := range status.Dependencies {
		if dep.Available {
			detail := "Ready (command: " + dep.Command + ")"
			if dep.Version != "" {
				detail = fmt.Sprintf("Ready (%s %s)", dep.Command, dep.Version)
			}
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusOK, detail, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, statusError, detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Jobs", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := jobCountRows(status.JobCounts)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
	} else {
		fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}, plain))
	}

	if !status.Running {
		return
	}
	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Maintenance", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.DiskFree > 0 {
		fmt.Fprintln(out, renderStatusLine("Disk free", statusInfo, humanize.IBytes(status.DiskFree), colorize))
	}
	for _, warning := range status.HealthWarns {
		fmt.Fprintln(out, renderStatusLine("Health", statusWarn, warning, colorize))
	}
	if len(status.ErrorsByType) > 0 {
		fmt.Fprintln(out, renderStatusLine("Errors handled", statusInfo, errorTypeSummary(status.ErrorsTotal, status.ErrorsByType), colorize))
	}
	sweepRows := make([][]string, 0, len(status.Sweeps))
	for _, sweep := range status.Sweeps {
		next := "-"
		if !sweep.NextRun.IsZero() {
			next = sweep.NextRun.Local().Format("Jan 2 15:04")
		}
		sweepRows = append(sweepRows, []string{
			sweep.Name,
			formatAge(sweep.LastRun, now),
			fmt.Sprintf("%d", sweep.Removed),
			fmt.Sprintf("%d", sweep.Warnings),
			next,
		})
	}
	fmt.Fprint(out, renderTable([]string{"Sweep", "Last Run", "Removed", "Warnings", "Next Run"}, sweepRows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}, plain))
}

func jobCountRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range store.AllJobStatuses() {
		count := counts[string(status)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{displayLabel(string(status)), fmt.Sprintf("%d", count)})
	}
	return rows
}

func errorTypeSummary(total int64, byType map[string]int64) string {
	types := make([]string, 0, len(byType))
	for typ := range byType {
		types = append(types, typ)
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, typ := range types {
		parts = append(parts, fmt.Sprintf("%s %d", typ, byType[typ]))
	}
	return fmt.Sprintf("%d total (%s)", total, strings.Join(parts, ", "))
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   strings.TrimSpace(logLevel),
	}
}
