package gateway

import (
	"context"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
)

// OrderType is the native broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Status is the broker's view of a native order.
type Status string

const (
	StatusWorking   Status = "working"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// NativeOrderSpec describes a native order placement request.
type NativeOrderSpec struct {
	Ticker     string
	Side       types.Side
	Quantity   decimal.Decimal
	Type       OrderType
	LimitPrice decimal.Decimal // required for limit orders
	Remark     string          // free-form tag linking back to the synthetic order
}

// StatusReport is the broker's answer to an order status query.
type StatusReport struct {
	NativeOrderID string
	Status        Status
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Reason        string // rejection reason when status is rejected
}

// Gateway exposes the broker connectivity process's primitives: trade
// history, order placement, cancellation and status queries. The live quote
// stream is exposed separately through the websocket layer.
type Gateway interface {
	// GetTradeHistory returns the account's executed trades in ledger order.
	GetTradeHistory(ctx context.Context, account string) ([]*types.Trade, error)

	// PlaceOrder submits a native order and returns its broker-assigned ID.
	PlaceOrder(ctx context.Context, spec *NativeOrderSpec) (string, error)

	// CancelOrder requests cancellation of a working native order.
	CancelOrder(ctx context.Context, nativeOrderID string) error

	// GetOrderStatus queries the live status of a native order.
	GetOrderStatus(ctx context.Context, nativeOrderID string) (*StatusReport, error)
}
