package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tablebook/internal/export"
	"tablebook/internal/model"
)

func newExportCmd(configPath *string) *cobra.Command {
	var (
		restaurantID string
		date         string
		outDir       string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one restaurant-day of reservations to an XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if _, err := model.ParseDate(date); err != nil {
				return err
			}

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rest, err := a.svc.GetRestaurant(ctx, restaurantID)
			if err != nil {
				return err
			}
			list, err := a.svc.GetRestaurantReservations(ctx, rest.ID, model.ReservationFilter{From: date, To: date})
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(outDir, export.Filename(rest.Slug, date))
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := export.WriteRestaurantDay(f, rest, date, list); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d reservations to %s\n", len(list), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&restaurantID, "restaurant", "r", "", "restaurant id")
	cmd.Flags().StringVarP(&date, "date", "d", "", "date as YYYY-MM-DD")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	_ = cmd.MarkFlagRequired("restaurant")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
