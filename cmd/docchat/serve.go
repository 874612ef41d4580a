package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
	httptransport "docchat/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	var withWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
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

			if withWorkers {
				if err := app.StartWorkers(ctx); err != nil {
					return err
				}
			}

			server := &http.Server{
				Addr:              app.Config.HTTPAddr(),
				Handler:           httptransport.NewRouter(app),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				app.Logger.Info("server starting", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				app.Logger.Error("server shutdown failed", "error", err)
			}
			app.Logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "with-workers", false, "also consume ingestion jobs and run the sweeper in this process")
	return cmd
}
