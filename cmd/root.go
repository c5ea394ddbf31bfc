package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "tradekeeper",
	Short: "Retail brokerage supplement",
	Long: `Tradekeeper supplements a retail broker with the order types and
accounting the broker itself lacks: per-ticker realized P&L built from
FIFO lot reconciliation, trailing-stop orders with a profit floor held
synthetically until they trigger, and price alerts with cooldowns.

The service talks to the broker through a local gateway process, watches
live quotes over WebSocket, and exposes a JSON command API plus Prometheus
metrics over HTTP.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	// Flags can be added here if needed
}
