package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/queue"
	"subforge/internal/workflow"
)

func newTermsCommand(ctx *commandContext) *cobra.Command {
	termsCmd := &cobra.Command{
		Use:   "terms",
		Short: "Inspect the learned terminology store",
	}
	termsCmd.AddCommand(newTermsListCommand(ctx))
	termsCmd.AddCommand(newTermsClearCommand(ctx))
	return termsCmd
}

func newTermsListCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List terminology entries that clear the confidence gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, _ *queue.Store, mgr *workflow.Manager) error {
				store := mgr.Terms()
				out := cmd.OutOrStdout()
				if store == nil {
					fmt.Fprintln(out, "Terminology store is disabled")
					return nil
				}
				list, err := store.Query()
				if all {
					list, err = store.All()
				}
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(out, "No terms recorded")
					return nil
				}

				rows := make([][]string, 0, len(list))
				for _, term := range list {
					origin := "learned"
					if term.Manual {
						origin = "glossary"
					}
					rows = append(rows, []string{
						term.Term,
						term.Translation,
						string(term.Category),
						fmt.Sprintf("%.2f", term.Confidence),
						strconv.Itoa(term.Occurrences),
						origin,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Term", "Translation", "Category", "Confidence", "Seen", "Origin"}, rows, 4, 5))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include terms below the confidence and occurrence gates")
	return cmd
}

func newTermsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all learned terminology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, _ *queue.Store, mgr *workflow.Manager) error {
				store := mgr.Terms()
				out := cmd.OutOrStdout()
				if store == nil {
					fmt.Fprintln(out, "Terminology store is disabled")
					return nil
				}
				if err := store.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(out, "Terminology store cleared")
				return nil
			})
		},
	}
}
