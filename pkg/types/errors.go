package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError indicates malformed input (trade, order spec, alert rule)
// rejected before any state was mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DataIntegrityError indicates a ledger inconsistency, e.g. a sell
// exceeding tracked open quantity when the short-lot policy is disabled.
// It is surfaced to the caller, never silently resolved.
type DataIntegrityError struct {
	Ticker    string
	Shortfall decimal.Decimal
	Message   string
}

func (e *DataIntegrityError) Error() string {
	if e.Shortfall.IsPositive() {
		return fmt.Sprintf("%s: %s (shortfall %s)", e.Ticker, e.Message, e.Shortfall)
	}
	return fmt.Sprintf("%s: %s", e.Ticker, e.Message)
}

// GatewayError indicates a broker gateway call failed. Retryable errors are
// retried with bounded backoff by the order engine; the rest surface as
// order error state.
type GatewayError struct {
	Op        string // "place_order", "cancel_order", "order_status", ...
	Code      string // gateway error code when available
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s failed: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Op, e.Message)
}

// StateConflictError indicates a command raced an order lifecycle
// transition, e.g. cancelling an order that already reached a terminal
// state.
type StateConflictError struct {
	OrderID   string
	State     OrderState
	Requested string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("order %s: cannot %s in state %s", e.OrderID, e.Requested, e.State)
}

// IsRetryable reports whether err is a gateway error worth retrying.
func IsRetryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

// Known broker gateway rejection codes.
const (
	ErrInsufficientShares = "INSUFFICIENT_SHARES"
	ErrMarketClosed       = "MARKET_CLOSED"
	ErrOrderNotFound      = "ORDER_NOT_FOUND"
	ErrRateLimited        = "RATE_LIMITED"
	ErrUnknownStatus      = "UNKNOWN_STATUS"
)
