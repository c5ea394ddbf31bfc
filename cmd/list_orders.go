package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var listOrdersCmd = &cobra.Command{
	Use:   "list-orders",
	Short: "List synthetic orders",
	Long: `List synthetic orders held by the running service, newest first.

Shows order details including ticker, side, trail, floor price and state.

Examples:
  # List all orders
  go run . list-orders

  # Only orders still being watched
  go run . list-orders --open`,
	Args: cobra.NoArgs,
	RunE: runListOrders,
}

var listOrdersOpenOnly bool

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(listOrdersCmd)
	listOrdersCmd.Flags().BoolVar(&listOrdersOpenOnly, "open", false, "Show only non-terminal orders")
}

func runListOrders(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var orders []orderView
	if err := client.get(ctx, "/api/orders", &orders); err != nil {
		return err
	}

	if listOrdersOpenOnly {
		orders = filterOpenOrders(orders)
	}

	if len(orders) == 0 {
		fmt.Println("No orders.")
		return nil
	}

	fmt.Printf("%-36s %-10s %-4s %8s %10s %10s %-9s\n",
		"ID", "TICKER", "SIDE", "QTY", "FLOOR", "BEST", "STATE")

	for _, o := range orders {
		best := o.BestSeen
		if best == "" {
			best = "-"
		}
		fmt.Printf("%-36s %-10s %-4s %8s %10s %10s %-9s\n",
			o.ID, o.Ticker, o.Side, o.Quantity, o.LimitPrice, best, o.State)
		if o.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", o.ErrorMessage)
		}
	}

	return nil
}

// filterOpenOrders keeps orders the service is still watching or tracking.
func filterOpenOrders(orders []orderView) []orderView {
	open := make([]orderView, 0, len(orders))
	for _, o := range orders {
		switch o.State {
		case "pending", "active", "triggered":
			open = append(open, o)
		}
	}
	return open
}
