package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tablebook/internal/config"
	"tablebook/internal/model"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var (
		syncRestaurants bool
		pruneBefore     string
		prune           bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema, optionally sync restaurants and prune old reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			// Opening the database applies the schema.
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			a.logger.Info().Str("driver", a.db.Dialect().Name()).Msg("Schema is up to date")

			if syncRestaurants {
				rc, err := config.LoadRestaurantsConfig(a.cfg.RestaurantsConfigPath)
				if err != nil {
					return err
				}
				if err := a.syncRestaurants(ctx, rc); err != nil {
					return fmt.Errorf("sync restaurants: %w", err)
				}
			}

			switch {
			case pruneBefore != "":
				n, err := a.svc.PruneReservations(ctx, pruneBefore)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d reservations before %s\n", n, pruneBefore)
			case prune:
				retention := a.cfg.Retention()
				if retention <= 0 {
					return model.Validationf("prune", "booking.retention_days is not configured")
				}
				n, err := a.svc.PruneOlderThan(ctx, retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d reservations\n", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&syncRestaurants, "sync-restaurants", false, "apply restaurants.yaml to the store")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete finished reservations older than booking.retention_days")
	cmd.Flags().StringVar(&pruneBefore, "prune-before", "", "delete finished reservations dated before YYYY-MM-DD")
	return cmd
}
