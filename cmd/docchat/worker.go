package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume ingestion jobs and sweep stale queued documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := bootstrap.New(ctx)
			if err != nil {
				return fmt.Errorf("bootstrap failed: %w", err)
			}
			defer func() {
				if err := app.Close(); err != nil {
					app.Logger.Error("close resources failed", "error", err)
				}
			}()

			if err := app.StartWorkers(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			app.Logger.Info("worker stopping")
			return nil
		},
	}
}
