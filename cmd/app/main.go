package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "agrisync",
	Short:         "AgriSync farmer assistance relay",
	Long:          "AgriSync answers farmer messages from Twilio and WhatsApp with local market prices and pickup scheduling.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(seedCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
