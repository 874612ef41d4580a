package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-enqueue stale queued documents once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := bootstrap.New(ctx)
			if err != nil {
				return fmt.Errorf("bootstrap failed: %w", err)
			}
			defer app.Close()

			n, err := app.Sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-enqueued %d document(s)\n", n)
			return nil
		},
	}
}
