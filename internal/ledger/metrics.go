package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesRecordedTotal tracks applied trades by side.
	TradesRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_ledger_trades_recorded_total",
			Help: "Total number of trades applied to the ledger",
		},
		[]string{"side"},
	)

	// TradesRejectedTotal tracks rejected trades by reason.
	TradesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_ledger_trades_rejected_total",
			Help: "Total number of trades rejected at ingestion",
		},
		[]string{"reason"},
	)

	// TradesDuplicateTotal tracks idempotent re-submissions.
	TradesDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradekeeper_ledger_trades_duplicate_total",
		Help: "Total number of already-seen trade IDs ignored",
	})
)
