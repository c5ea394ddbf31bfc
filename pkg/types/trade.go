package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade represents a single executed trade in the ledger.
// Quantity is always a positive magnitude; direction is carried by Side.
type Trade struct {
	ID         string
	Ticker     string
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	ExecutedAt time.Time
}

// Before reports whether t was executed before other, using the ledger
// ordering key (execution time, tie-broken by trade ID).
func (t *Trade) Before(other *Trade) bool {
	if t.ExecutedAt.Equal(other.ExecutedAt) {
		return t.ID < other.ID
	}
	return t.ExecutedAt.Before(other.ExecutedAt)
}

// PositionSummary is the per-ticker output of the reconciliation engine.
// Realized P&L is retained permanently, including for tickers whose
// position has been fully closed out.
type PositionSummary struct {
	Ticker        string
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	OpenQuantity  decimal.Decimal
	AvgOpenCost   decimal.Decimal
	MarkPrice     decimal.Decimal
	MarkedAt      time.Time
}
