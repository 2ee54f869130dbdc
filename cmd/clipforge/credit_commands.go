package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipforge/internal/credits"
	"clipforge/internal/store"
)

func newCreditsCommand(ctx *commandContext) *cobra.Command {
	creditsCmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and grant user credits",
	}
	creditsCmd.AddCommand(newCreditsBalanceCommand(ctx))
	creditsCmd.AddCommand(newCreditsHistoryCommand(ctx))
	creditsCmd.AddCommand(newCreditsGrantCommand(ctx))
	creditsCmd.AddCommand(newCreditsQuoteCommand())
	return creditsCmd
}

func newCreditsBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(l *localServices) error {
				balance, err := l.ledger.Balance(cmd.Context(), args[0])
				if err != nil {
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, balance)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d remaining (%d total, %d used)\n",
					balance.UserID, balance.Remaining, balance.Total, balance.Used)
				return nil
			})
		},
	}
}

func newCreditsHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "List a user's ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(l *localServices) error {
				entries, err := l.ledger.History(cmd.Context(), args[0], limit, offset)
				if err != nil {
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No transactions")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						formatAge(entry.CreatedAt, now),
						displayLabel(string(entry.Type)),
						signedAmount(entry),
						entry.Description,
						shortID(entry.JobID),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"When", "Type", "Amount", "Description", "Job"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
					!isTerminal(out),
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	return cmd
}

func signedAmount(entry *store.CreditTransaction) string {
	if entry.Type == store.TransactionSpent {
		return fmt.Sprintf("-%d", entry.Amount)
	}
	return fmt.Sprintf("+%d", entry.Amount)
}

func newCreditsGrantCommand(ctx *commandContext) *cobra.Command {
	var kind, description string
	cmd := &cobra.Command{
		Use:   "grant <user> <amount>",
		Short: "Add credits to a user's account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount int64
			if _, err := fmt.Sscan(args[1], &amount); err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			txType := store.TransactionType(strings.ToLower(strings.TrimSpace(kind)))
			switch txType {
			case store.TransactionPurchased, store.TransactionBonus, store.TransactionEarned:
			default:
				return fmt.Errorf("grant type must be purchased, bonus, or earned, got %q", kind)
			}
			return ctx.withLocal(func(l *localServices) error {
				balance, err := l.ledger.Credit(cmd.Context(), args[0], amount, credits.Meta{
					Type:        txType,
					Description: description,
				})
				if err != nil {
					return l.fail(cmd, err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, balance)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %d %s credits to %s; %d remaining\n",
					amount, txType, balance.UserID, balance.Remaining)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", string(store.TransactionPurchased), "Transaction type: purchased, bonus, or earned")
	cmd.Flags().StringVar(&description, "description", "Operator grant", "Ledger description")
	return cmd
}

func newCreditsQuoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "quote <duration-seconds> <clip-count>",
		Short:       "Print the credit cost of a job",
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var duration float64
			var clips int
			if _, err := fmt.Sscan(args[0], &duration); err != nil || duration < 0 {
				return fmt.Errorf("invalid duration %q", args[0])
			}
			if _, err := fmt.Sscan(args[1], &clips); err != nil || clips < 0 {
				return fmt.Errorf("invalid clip count %q", args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", credits.Cost(duration, clips))
			return nil
		},
	}
}
