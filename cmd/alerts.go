package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var listAlertsCmd = &cobra.Command{
	Use:   "list-alerts",
	Short: "List alert rules",
	Long: `List alert rules held by the running service.

Examples:
  # List all alert rules
  go run . list-alerts`,
	Args: cobra.NoArgs,
	RunE: runListAlerts,
}

//nolint:gochecknoglobals // Cobra boilerplate
var addAlertCmd = &cobra.Command{
	Use:   "add-alert",
	Short: "Add a price alert rule",
	Long: `Adds an alert rule to the running service. The rule fires a push
notification whenever its metric crosses the threshold, at most once per
cooldown window.

Metrics are tickers (US.NVDA) or FX pairs published by the rate poller
(USD/SGD).

Examples:
  # Alert when NVDA drops below 100, at most once per hour
  go run . add-alert --metric US.NVDA --operator "<" --threshold 100 \
    --cooldown 1h --message "NVDA under 100"

  # Alert on a strong Singapore dollar
  go run . add-alert --metric USD/SGD --operator "<=" --threshold 1.30`,
	Args: cobra.NoArgs,
	RunE: runAddAlert,
}

//nolint:gochecknoglobals // Cobra boilerplate
var deleteAlertCmd = &cobra.Command{
	Use:   "delete-alert <rule-id>",
	Short: "Delete an alert rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteAlert,
}

var (
	alertMetric    string
	alertOperator  string
	alertThreshold string
	alertMessage   string
	alertCooldown  time.Duration
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(listAlertsCmd)
	rootCmd.AddCommand(addAlertCmd)
	rootCmd.AddCommand(deleteAlertCmd)

	addAlertCmd.Flags().StringVar(&alertMetric, "metric", "", "Metric to watch (required)")
	addAlertCmd.Flags().StringVar(&alertOperator, "operator", "", "Comparison: >, >=, < or <= (required)")
	addAlertCmd.Flags().StringVar(&alertThreshold, "threshold", "", "Threshold value (required)")
	addAlertCmd.Flags().StringVar(&alertMessage, "message", "", "Custom notification message")
	addAlertCmd.Flags().DurationVar(&alertCooldown, "cooldown", 0, "Minimum time between firings (0 = service default)")

	_ = addAlertCmd.MarkFlagRequired("metric")
	_ = addAlertCmd.MarkFlagRequired("operator")
	_ = addAlertCmd.MarkFlagRequired("threshold")
}

func runListAlerts(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var rules []alertView
	if err := client.get(ctx, "/api/alerts", &rules); err != nil {
		return err
	}

	if len(rules) == 0 {
		fmt.Println("No alert rules.")
		return nil
	}

	fmt.Printf("%-36s %-12s %-3s %10s %10s %-20s\n",
		"ID", "METRIC", "OP", "THRESHOLD", "COOLDOWN", "LAST FIRED")

	for _, r := range rules {
		lastFired := r.LastFiredAt
		if lastFired == "" {
			lastFired = "never"
		}
		cooldown := (time.Duration(r.CooldownSeconds) * time.Second).String()
		fmt.Printf("%-36s %-12s %-3s %10s %10s %-20s\n",
			r.ID, r.Metric, r.Operator, r.Threshold, cooldown, lastFired)
	}

	return nil
}

func runAddAlert(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	req := map[string]interface{}{
		"metric":    alertMetric,
		"operator":  alertOperator,
		"threshold": alertThreshold,
	}
	if alertMessage != "" {
		req["message"] = alertMessage
	}
	if alertCooldown > 0 {
		req["cooldown_seconds"] = int(alertCooldown.Seconds())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var rule alertView
	if err := client.post(ctx, "/api/alerts", req, &rule); err != nil {
		return err
	}

	fmt.Printf("Alert %s added: %s %s %s\n", rule.ID, rule.Metric, rule.Operator, rule.Threshold)
	return nil
}

func runDeleteAlert(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.delete(ctx, "/api/alerts/"+args[0]); err != nil {
		return err
	}

	fmt.Printf("Alert %s deleted\n", args[0])
	return nil
}
