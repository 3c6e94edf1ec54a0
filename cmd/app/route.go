package main

import (
	"fmt"

	"agrisync/internal/logistics"

	"github.com/spf13/cobra"
)

func routeCmd() *cobra.Command {
	var depot string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Print the pickup route for pending logistics requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			repository, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repository.Close()

			if depot == "" {
				depot = cfg.DepotName
			}
			if _, err := logistics.WriteRoute(cmd.Context(), repository, cmd.OutOrStdout(), depot); err != nil {
				return fmt.Errorf("build route: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&depot, "depot", "", "final destination name (default: $DEPOT_NAME)")
	return cmd
}
