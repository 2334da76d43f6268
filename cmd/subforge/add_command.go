package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/queue"
	"subforge/internal/workflow"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Queue media files for subtitle generation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, _ *queue.Store, mgr *workflow.Manager) error {
				out := cmd.OutOrStdout()
				for _, path := range args {
					job, err := mgr.Enqueue(cmd.Context(), path)
					if err != nil {
						return fmt.Errorf("queue %s: %w", path, err)
					}
					fmt.Fprintf(out, "Queued #%d %s\n", job.ID, job.Title)
				}
				return nil
			})
		},
	}
}
