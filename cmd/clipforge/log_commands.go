package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"clipforge/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var jobID, userID string
	var match []string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tokens := append([]string{jobID, userID}, match...)
			out := cmd.OutOrStdout()
			query := logs.Query{Offset: -1, Limit: lines, Match: tokens}
			for {
				page, err := logs.Read(cmd.Context(), cfg.LogFilePath(), query)
				for _, line := range page.Lines {
					fmt.Fprintln(out, line)
				}
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if !follow {
					return nil
				}
				query = logs.Query{Offset: page.Offset, Follow: true, Wait: 5 * time.Second, Match: tokens}
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&jobID, "job", "", "Only lines for this job")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only lines for this user")
	cmd.Flags().StringSliceVar(&match, "match", nil, "Only lines containing this text (repeatable)")
	return cmd
}
