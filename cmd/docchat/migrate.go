package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Enable pgvector and migrate the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bootstrap.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}
