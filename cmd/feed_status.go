package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var feedStatusCmd = &cobra.Command{
	Use:   "feed-status",
	Short: "Show quote feed liveness",
	Args:  cobra.NoArgs,
	RunE:  runFeedStatus,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(feedStatusCmd)
}

func runFeedStatus(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var status struct {
		Healthy  bool   `json:"healthy"`
		LastTick string `json:"last_tick"`
	}
	if err := client.get(ctx, "/api/feed", &status); err != nil {
		return err
	}

	state := "HEALTHY"
	if !status.Healthy {
		state = "STALE"
	}
	fmt.Printf("Feed: %s (last tick %s)\n", state, status.LastTick)
	return nil
}
