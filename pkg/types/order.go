package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of a synthetic order.
type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderActive    OrderState = "active"
	OrderTriggered OrderState = "triggered"
	OrderFilled    OrderState = "filled"
	OrderCancelled OrderState = "cancelled"
	OrderExpired   OrderState = "expired"
	OrderError     OrderState = "error"
)

// Terminal reports whether s is a terminal state. Terminal orders receive
// no further tick processing.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderExpired, OrderError:
		return true
	}
	return false
}

// SyntheticOrder is a trailing-stop order with a protective price limit,
// realized by composing native broker primitives. Exactly one of
// TrailAmount / TrailPercent is set.
//
// For a sell order the limit is a floor: the order never executes below
// LimitPrice. For a buy order the limit is a ceiling.
type SyntheticOrder struct {
	ID       string
	Ticker   string
	Side     Side
	Quantity decimal.Decimal

	TrailAmount  decimal.Decimal // absolute trail distance; zero when unused
	TrailPercent decimal.Decimal // percentage trail; zero when unused
	LimitPrice   decimal.Decimal // floor (sell) or ceiling (buy)

	State         OrderState
	NativeOrderID string // linked broker order, empty until submission

	// BestSeen is the most favorable price observed since activation:
	// highest for a sell, lowest for a buy. Zero means no tick seen yet.
	BestSeen  decimal.Decimal
	LastPrice decimal.Decimal

	FillPrice      decimal.Decimal // realized execution price, set on fill
	SubmitAttempts int
	ErrorMessage   string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time // zero means good-till-cancelled
}

// UsesPercentTrail reports whether the order trails by percentage rather
// than by absolute amount.
func (o *SyntheticOrder) UsesPercentTrail() bool {
	return o.TrailPercent.IsPositive()
}
