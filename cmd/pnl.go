package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var pnlCmd = &cobra.Command{
	Use:   "pnl [ticker]",
	Short: "Show per-ticker realized and unrealized P&L",
	Long: `Fetches reconciled P&L from the running service.

Realized P&L stays attributed to its ticker even after the position is
fully closed, which is the number the broker's own equity view loses.

Examples:
  # Show all tickers (default table format)
  go run . pnl

  # Show a single ticker
  go run . pnl US.NVDA

  # Export to JSON
  go run . pnl --format json > pnl.json

  # Export to CSV
  go run . pnl --format csv > pnl.csv

  # Sort by realized P&L (most profitable first)
  go run . pnl --sort-by-pnl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPnL,
}

var (
	pnlFormat    string
	pnlSortByPnL bool
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(pnlCmd)

	pnlCmd.Flags().StringVar(&pnlFormat, "format", "table", "Output format: table, json, csv")
	pnlCmd.Flags().BoolVar(&pnlSortByPnL, "sort-by-pnl", false, "Sort tickers by realized P&L (highest first)")
}

func runPnL(cmd *cobra.Command, args []string) error {
	if err := validatePnLFlags(); err != nil {
		return err
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var summaries []pnlView
	if len(args) == 1 {
		var one pnlView
		if err := client.get(ctx, "/api/pnl/"+args[0], &one); err != nil {
			return err
		}
		summaries = []pnlView{one}
	} else {
		if err := client.get(ctx, "/api/pnl", &summaries); err != nil {
			return err
		}
	}

	sortPnLViews(summaries, pnlSortByPnL)

	switch pnlFormat {
	case "json":
		return outputPnLJSON(summaries)
	case "csv":
		return outputPnLCSV(summaries)
	default:
		outputPnLTable(summaries)
		return nil
	}
}

func validatePnLFlags() error {
	switch pnlFormat {
	case "table", "json", "csv":
		return nil
	default:
		return fmt.Errorf("invalid format %q: must be table, json, or csv", pnlFormat)
	}
}

// sortPnLViews orders summaries by realized P&L descending when byPnL is
// set, alphabetically by ticker otherwise.
func sortPnLViews(summaries []pnlView, byPnL bool) {
	if byPnL {
		sort.SliceStable(summaries, func(i, j int) bool {
			a, errA := decimal.NewFromString(summaries[i].RealizedPnL)
			b, errB := decimal.NewFromString(summaries[j].RealizedPnL)
			if errA != nil || errB != nil {
				return summaries[i].Ticker < summaries[j].Ticker
			}
			return a.GreaterThan(b)
		})
		return
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Ticker < summaries[j].Ticker
	})
}

func outputPnLTable(summaries []pnlView) {
	if len(summaries) == 0 {
		fmt.Println("No position history.")
		return
	}

	fmt.Printf("%-12s %12s %12s %10s %12s %12s\n",
		"TICKER", "REALIZED", "UNREALIZED", "OPEN QTY", "AVG COST", "MARK")

	for _, s := range summaries {
		mark := s.MarkPrice
		if mark == "" {
			mark = "-"
		}
		fmt.Printf("%-12s %12s %12s %10s %12s %12s\n",
			s.Ticker, s.RealizedPnL, s.UnrealizedPnL, s.OpenQuantity, s.AvgOpenCost, mark)
	}

	realized, unrealized := totalPnL(summaries)
	fmt.Printf("\nTotal realized: %s  unrealized: %s  (%d tickers)\n",
		realized, unrealized, len(summaries))
}

// totalPnL sums realized and unrealized P&L across summaries. Values the
// service produced always parse; a malformed one counts as zero.
func totalPnL(summaries []pnlView) (realized, unrealized decimal.Decimal) {
	for _, s := range summaries {
		if v, err := decimal.NewFromString(s.RealizedPnL); err == nil {
			realized = realized.Add(v)
		}
		if v, err := decimal.NewFromString(s.UnrealizedPnL); err == nil {
			unrealized = unrealized.Add(v)
		}
	}
	return realized, unrealized
}

func outputPnLJSON(summaries []pnlView) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summaries)
}

func outputPnLCSV(summaries []pnlView) error {
	writer := csv.NewWriter(os.Stdout)
	defer writer.Flush()

	header := []string{"ticker", "realized_pnl", "unrealized_pnl", "open_quantity", "avg_open_cost", "mark_price", "marked_at"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, s := range summaries {
		row := []string{s.Ticker, s.RealizedPnL, s.UnrealizedPnL, s.OpenQuantity, s.AvgOpenCost, s.MarkPrice, s.MarkedAt}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	return nil
}
