package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/queue"
	"subforge/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every pending job until the queue is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, store *queue.Store, mgr *workflow.Manager) error {
				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				err := mgr.ProcessQueue(runCtx)
				out := cmd.OutOrStdout()
				if err != nil {
					if errors.Is(err, runCtx.Err()) {
						fmt.Fprintln(out, "Interrupted; in-flight job left resumable")
						return err
					}
					return err
				}

				health, healthErr := store.Health(cmd.Context())
				if healthErr != nil {
					return healthErr
				}
				fmt.Fprintf(out, "Queue drained: %d completed, %d failed\n", health.Completed, health.Failed)
				return nil
			})
		},
	}
}
