package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var placeOrderCmd = &cobra.Command{
	Use:   "place-order",
	Short: "Place a trailing-stop order with a profit floor",
	Long: `Places a synthetic trailing-stop order with the running service.

For a sell, the trigger trails the highest price seen; once price retraces
by the trail distance a market order is submitted, unless the floor price
has been crossed, in which case a limit order at the floor goes out instead.
A buy mirrors this against the lowest price seen.

Exactly one of --trail-amount and --trail-percent must be set.

Examples:
  # Sell 10 NVDA, trailing $5, never below $90
  go run . place-order --ticker US.NVDA --side SELL --quantity 10 \
    --trail-amount 5 --limit-price 90

  # Trail by 3% and expire the order in 8 hours
  go run . place-order --ticker US.AAPL --side SELL --quantity 25 \
    --trail-percent 3 --limit-price 180 --expires-in 8h`,
	Args: cobra.NoArgs,
	RunE: runPlaceOrder,
}

var (
	placeTicker       string
	placeSide         string
	placeQuantity     string
	placeTrailAmount  string
	placeTrailPercent string
	placeLimitPrice   string
	placeExpiresIn    time.Duration
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(placeOrderCmd)

	placeOrderCmd.Flags().StringVar(&placeTicker, "ticker", "", "Ticker to watch (required)")
	placeOrderCmd.Flags().StringVar(&placeSide, "side", "SELL", "Order side: BUY or SELL")
	placeOrderCmd.Flags().StringVar(&placeQuantity, "quantity", "", "Quantity to trade (required)")
	placeOrderCmd.Flags().StringVar(&placeTrailAmount, "trail-amount", "", "Trail distance in price units")
	placeOrderCmd.Flags().StringVar(&placeTrailPercent, "trail-percent", "", "Trail distance in percent")
	placeOrderCmd.Flags().StringVar(&placeLimitPrice, "limit-price", "", "Floor price for sells, ceiling for buys (required)")
	placeOrderCmd.Flags().DurationVar(&placeExpiresIn, "expires-in", 0, "Expire the order after this duration (0 = never)")

	_ = placeOrderCmd.MarkFlagRequired("ticker")
	_ = placeOrderCmd.MarkFlagRequired("quantity")
	_ = placeOrderCmd.MarkFlagRequired("limit-price")
}

func runPlaceOrder(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	req := map[string]interface{}{
		"ticker":      placeTicker,
		"side":        placeSide,
		"quantity":    placeQuantity,
		"limit_price": placeLimitPrice,
	}
	if placeTrailAmount != "" {
		req["trail_amount"] = placeTrailAmount
	}
	if placeTrailPercent != "" {
		req["trail_percent"] = placeTrailPercent
	}
	if placeExpiresIn > 0 {
		req["expires_at"] = time.Now().UTC().Add(placeExpiresIn).Format(time.RFC3339)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var order orderView
	if err := client.post(ctx, "/api/orders", req, &order); err != nil {
		return err
	}

	fmt.Printf("Order %s placed: %s %s %s, trail %s, floor %s, state %s\n",
		order.ID, order.Side, order.Quantity, order.Ticker,
		trailDescription(order), order.LimitPrice, order.State)

	return nil
}

func trailDescription(o orderView) string {
	if o.TrailPercent != "" {
		return o.TrailPercent + "%"
	}
	return o.TrailAmount
}
