package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var cancelOrderCmd = &cobra.Command{
	Use:   "cancel-order <order-id>",
	Short: "Cancel a synthetic order",
	Long: `Requests cancellation of a synthetic order by ID.

Cancelling an order the broker has already been asked to execute forwards
the cancel to the broker; the broker's answer decides whether the order
ends cancelled or filled.

Examples:
  # Cancel an order
  go run . cancel-order 3f1c9a52-8a4e-4b7d-9c3e-2f6d8e0a1b4c`,
	Args: cobra.ExactArgs(1),
	RunE: runCancelOrder,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(cancelOrderCmd)
}

func runCancelOrder(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err = client.delete(ctx, "/api/orders/"+args[0])
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return fmt.Errorf("order %s not found", args[0])
		}
		return err
	}

	fmt.Printf("Cancel requested for order %s\n", args[0])
	return nil
}
