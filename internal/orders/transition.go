package orders

import (
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
)

// Action is the side-effecting command produced by evaluating a tick
// against an order. Keeping the decision pure lets the trigger logic be
// unit tested without gateway I/O.
type Action int

const (
	// ActionNone means keep watching.
	ActionNone Action = iota
	// ActionSubmitMarket means the trail condition fired: submit a native
	// market order.
	ActionSubmitMarket
	// ActionSubmitLimit means the protective limit was crossed: submit a
	// native limit order at the order's limit price.
	ActionSubmitLimit
	// ActionExpire means the order's expiry passed.
	ActionExpire
)

func (a Action) String() string {
	switch a {
	case ActionSubmitMarket:
		return "submit_market"
	case ActionSubmitLimit:
		return "submit_limit"
	case ActionExpire:
		return "expire"
	}
	return "none"
}

// triggerPrice returns the current trail trigger level, or zero decimal
// when no reference price has been seen yet.
func triggerPrice(o *types.SyntheticOrder) decimal.Decimal {
	if o.BestSeen.IsZero() {
		return decimal.Zero
	}

	if o.Side == types.SideSell {
		if o.UsesPercentTrail() {
			factor := decimal.NewFromInt(1).Sub(o.TrailPercent.Div(decimal.NewFromInt(100)))
			return o.BestSeen.Mul(factor)
		}
		return o.BestSeen.Sub(o.TrailAmount)
	}

	if o.UsesPercentTrail() {
		factor := decimal.NewFromInt(1).Add(o.TrailPercent.Div(decimal.NewFromInt(100)))
		return o.BestSeen.Mul(factor)
	}
	return o.BestSeen.Add(o.TrailAmount)
}

// evaluate advances an active order's trailing reference with the new price
// and decides what to do. It mutates only the order's tracking fields
// (BestSeen, LastPrice); lifecycle transitions are applied by the caller.
//
// Sell semantics: the order trails the highest price seen. It submits a
// market sell when price retraces through the trail distance while still at
// or above the floor. A decline through the floor itself always submits a
// limit sell at the floor, so the order never executes below it. New highs
// re-arm the trail.
//
// Buy orders mirror this against the lowest seen price and a ceiling.
func evaluate(o *types.SyntheticOrder, price decimal.Decimal, now time.Time) Action {
	if o.State != types.OrderActive {
		return ActionNone
	}

	if !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt) {
		return ActionExpire
	}

	o.LastPrice = price

	if o.Side == types.SideSell {
		if o.BestSeen.IsZero() || price.GreaterThan(o.BestSeen) {
			// New high: extend the trail, nothing can fire on this tick.
			o.BestSeen = price
			return ActionNone
		}

		if price.LessThanOrEqual(o.LimitPrice) {
			return ActionSubmitLimit
		}

		trigger := triggerPrice(o)
		if price.LessThanOrEqual(trigger) && trigger.GreaterThanOrEqual(o.LimitPrice) &&
			o.BestSeen.GreaterThanOrEqual(o.LimitPrice) {
			return ActionSubmitMarket
		}

		return ActionNone
	}

	// Buy side: trail the lowest price, protect with a ceiling.
	if o.BestSeen.IsZero() || price.LessThan(o.BestSeen) {
		o.BestSeen = price
		return ActionNone
	}

	if price.GreaterThanOrEqual(o.LimitPrice) {
		return ActionSubmitLimit
	}

	trigger := triggerPrice(o)
	if price.GreaterThanOrEqual(trigger) && trigger.LessThanOrEqual(o.LimitPrice) &&
		o.BestSeen.LessThanOrEqual(o.LimitPrice) {
		return ActionSubmitMarket
	}

	return ActionNone
}
