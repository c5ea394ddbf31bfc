package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
)

// Spec describes a synthetic order to be placed. Exactly one of
// TrailAmount / TrailPercent must be positive.
type Spec struct {
	Ticker       string
	Side         types.Side
	Quantity     decimal.Decimal
	TrailAmount  decimal.Decimal
	TrailPercent decimal.Decimal
	LimitPrice   decimal.Decimal // floor for sells, ceiling for buys
	ExpiresAt    time.Time       // zero means good-till-cancelled
}

// Validate checks the spec before any state is created.
func (s *Spec) Validate() error {
	if s.Ticker == "" {
		return &types.ValidationError{Field: "ticker", Message: "ticker is required"}
	}
	if s.Side != types.SideBuy && s.Side != types.SideSell {
		return &types.ValidationError{Field: "side", Message: "side must be BUY or SELL"}
	}
	if !s.Quantity.IsPositive() {
		return &types.ValidationError{Field: "quantity", Message: "quantity must be positive"}
	}
	if !s.LimitPrice.IsPositive() {
		return &types.ValidationError{Field: "limit_price", Message: "limit price must be positive"}
	}

	hasAmount := s.TrailAmount.IsPositive()
	hasPercent := s.TrailPercent.IsPositive()
	if hasAmount && hasPercent {
		return &types.ValidationError{Field: "trail", Message: "cannot specify both trail_amount and trail_percent"}
	}
	if !hasAmount && !hasPercent {
		return &types.ValidationError{Field: "trail", Message: "must specify either trail_amount or trail_percent"}
	}
	if s.TrailAmount.IsNegative() {
		return &types.ValidationError{Field: "trail_amount", Message: "trail amount must be positive"}
	}
	if hasPercent && s.TrailPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return &types.ValidationError{Field: "trail_percent", Message: "trail percent must be between 0 and 100"}
	}
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(time.Now()) {
		return &types.ValidationError{Field: "expires_at", Message: "expiry must be in the future"}
	}

	return nil
}

// newOrder builds a SyntheticOrder from a validated spec. Orders activate
// immediately: the pending state exists for persistence gaps between
// creation and the runner picking the order up.
func newOrder(spec *Spec, now time.Time) *types.SyntheticOrder {
	return &types.SyntheticOrder{
		ID:           uuid.New().String(),
		Ticker:       spec.Ticker,
		Side:         spec.Side,
		Quantity:     spec.Quantity,
		TrailAmount:  spec.TrailAmount,
		TrailPercent: spec.TrailPercent,
		LimitPrice:   spec.LimitPrice,
		State:        types.OrderPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    spec.ExpiresAt,
	}
}
