package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/queue"
	"subforge/internal/workflow"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the processing history behind similarity matching",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))
	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded processing outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, _ *queue.Store, mgr *workflow.Manager) error {
				index := mgr.SimilarityIndex()
				out := cmd.OutOrStdout()
				if index == nil {
					fmt.Fprintln(out, "Similarity index is disabled")
					return nil
				}
				records, err := index.Records()
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "No history recorded")
					return nil
				}

				rows := make([][]string, 0, len(records))
				for _, record := range records {
					rows = append(rows, []string{
						shortMediaID(record.MediaID),
						record.Features.Language,
						fmt.Sprintf("%.0fs", record.Features.DurationSeconds),
						record.Params.TranscribeModel,
						fmt.Sprintf("%.2f", record.Outcome.Quality),
						fmt.Sprintf("%.0fs", record.Outcome.Seconds),
						humanize.Time(record.CreatedAt),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Media", "Lang", "Duration", "Model", "Quality", "Took", "Recorded"}, rows, 3, 5, 6))
				return nil
			})
		},
	}
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all recorded processing outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, _ *queue.Store, mgr *workflow.Manager) error {
				index := mgr.SimilarityIndex()
				out := cmd.OutOrStdout()
				if index == nil {
					fmt.Fprintln(out, "Similarity index is disabled")
					return nil
				}
				if err := index.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(out, "History cleared")
				return nil
			})
		},
	}
}
