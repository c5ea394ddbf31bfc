package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kevinzhu/tradekeeper/internal/app"
	"github.com/kevinzhu/tradekeeper/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the tradekeeper service",
	Long: `Starts the tradekeeper service, which will:
1. Reconcile the trade ledger against the broker gateway's history
2. Subscribe to live quotes over WebSocket
3. Watch synthetic trailing-stop orders and submit native orders on trigger
4. Evaluate price alert rules and push notifications

Use --watch-ticker to hold a quote subscription on one ticker for debugging.`,
	RunE: runService,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("watch-ticker", "w", "", "Hold a quote subscription on a single ticker (for debugging)")
}

func runService(cmd *cobra.Command, args []string) error {
	// Load environment
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	// Load config
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create logger
	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Get flags
	watchTicker, _ := cmd.Flags().GetString("watch-ticker")

	// Create app with options
	opts := &app.Options{
		WatchTicker: watchTicker,
	}

	application, err := app.New(cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	// Run app
	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
