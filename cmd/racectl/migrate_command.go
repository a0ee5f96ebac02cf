package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/race-predictor/internal/seeder"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pool, err := ctx.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := seeder.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")

			if seed {
				if err := seeder.SeedRaceTracks(cmd.Context(), pool, logger); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "race tracks seeded")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", true, "Also upsert the race tracks")
	return cmd
}
