package main

import (
	"fmt"

	"agrisync/internal/logistics"

	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo farmers and pickup requests around Kolar",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			repository, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repository.Close()

			res, err := logistics.Seed(cmd.Context(), repository, count, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d farmers and %d pickup requests.\n", res.FarmersCreated, res.Requests)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 20, "number of demo farmers")
	return cmd
}
