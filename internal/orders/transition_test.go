package orders

import (
	"testing"
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func activeSell(trailAmount, limitPrice string) *types.SyntheticOrder {
	return &types.SyntheticOrder{
		ID:          "o1",
		Ticker:      "AAPL",
		Side:        types.SideSell,
		Quantity:    dec("10"),
		TrailAmount: dec(trailAmount),
		LimitPrice:  dec(limitPrice),
		State:       types.OrderActive,
	}
}

func feedPrices(t *testing.T, o *types.SyntheticOrder, prices ...string) Action {
	t.Helper()
	action := ActionNone
	for _, p := range prices {
		action = evaluate(o, dec(p), time.Now())
	}
	return action
}

func TestEvaluateIgnoresInactiveOrders(t *testing.T) {
	for _, state := range []types.OrderState{
		types.OrderPending, types.OrderTriggered, types.OrderFilled,
		types.OrderCancelled, types.OrderExpired, types.OrderError,
	} {
		o := activeSell("5", "90")
		o.State = state
		if got := feedPrices(t, o, "100"); got != ActionNone {
			t.Errorf("state %s: action = %s, want none", state, got)
		}
	}
}

func TestSellNewHighExtendsTrail(t *testing.T) {
	o := activeSell("5", "90")

	if got := feedPrices(t, o, "100", "104", "108"); got != ActionNone {
		t.Fatalf("action = %s, want none", got)
	}
	if !o.BestSeen.Equal(dec("108")) {
		t.Errorf("best seen = %s, want 108", o.BestSeen)
	}

	// 104 is above the trigger 103, still nothing fires.
	if got := feedPrices(t, o, "104"); got != ActionNone {
		t.Fatalf("action = %s, want none", got)
	}
}

func TestSellRetracementThroughTrailSubmitsMarket(t *testing.T) {
	o := activeSell("5", "90")

	got := feedPrices(t, o, "100", "108", "103")
	if got != ActionSubmitMarket {
		t.Fatalf("action = %s, want submit_market", got)
	}
}

func TestSellFloorCrossSubmitsLimitAtFloor(t *testing.T) {
	o := activeSell("5", "90")

	// Gap straight down through the floor: a limit at the floor caps the
	// downside instead of selling into the hole at market.
	got := feedPrices(t, o, "100", "89")
	if got != ActionSubmitLimit {
		t.Fatalf("action = %s, want submit_limit", got)
	}
}

func TestSellTriggerBelowFloorIsSuppressed(t *testing.T) {
	// Trail of 15 puts the trigger at 85, below the floor of 90. A drop to
	// 92 crosses neither the trigger nor the floor.
	o := activeSell("15", "90")

	if got := feedPrices(t, o, "100", "92"); got != ActionNone {
		t.Fatalf("action = %s, want none", got)
	}

	// But the floor itself still executes.
	if got := feedPrices(t, o, "90"); got != ActionSubmitLimit {
		t.Fatalf("action = %s, want submit_limit", got)
	}
}

func TestSellPercentTrail(t *testing.T) {
	o := &types.SyntheticOrder{
		ID:           "o1",
		Ticker:       "AAPL",
		Side:         types.SideSell,
		Quantity:     dec("10"),
		TrailPercent: dec("10"),
		LimitPrice:   dec("50"),
		State:        types.OrderActive,
	}

	// Best 200, 10% trail puts the trigger at 180.
	if got := feedPrices(t, o, "200", "181"); got != ActionNone {
		t.Fatalf("action = %s, want none", got)
	}
	if got := feedPrices(t, o, "180"); got != ActionSubmitMarket {
		t.Fatalf("action = %s, want submit_market", got)
	}
}

func TestSellTrailRearmsAfterNewHigh(t *testing.T) {
	o := activeSell("5", "90")

	// Dip to 104 does not reach the old trigger 103, then a new high at
	// 110 moves the trigger to 105.
	if got := feedPrices(t, o, "100", "108", "104", "110"); got != ActionNone {
		t.Fatalf("action = %s, want none", got)
	}
	if got := feedPrices(t, o, "105"); got != ActionSubmitMarket {
		t.Fatalf("action = %s, want submit_market", got)
	}
}

func TestBuyMirrorsWithCeiling(t *testing.T) {
	o := &types.SyntheticOrder{
		ID:          "o1",
		Ticker:      "AAPL",
		Side:        types.SideBuy,
		Quantity:    dec("10"),
		TrailAmount: dec("5"),
		LimitPrice:  dec("110"), // ceiling
		State:       types.OrderActive,
	}

	// New lows extend the trail downward.
	if got := feedPrices(t, o, "100", "95", "92"); got != ActionNone {
		t.Fatalf("action = %s, want none", got)
	}
	if !o.BestSeen.Equal(dec("92")) {
		t.Errorf("best seen = %s, want 92", o.BestSeen)
	}

	// Bounce through the trail fires a market buy.
	if got := feedPrices(t, o, "97"); got != ActionSubmitMarket {
		t.Fatalf("action = %s, want submit_market", got)
	}
}

func TestBuyCeilingCrossSubmitsLimit(t *testing.T) {
	o := &types.SyntheticOrder{
		ID:          "o1",
		Ticker:      "AAPL",
		Side:        types.SideBuy,
		Quantity:    dec("10"),
		TrailAmount: dec("5"),
		LimitPrice:  dec("110"),
		State:       types.OrderActive,
	}

	if got := feedPrices(t, o, "100", "112"); got != ActionSubmitLimit {
		t.Fatalf("action = %s, want submit_limit", got)
	}
}

func TestEvaluateExpiry(t *testing.T) {
	o := activeSell("5", "90")
	o.ExpiresAt = time.Now().Add(-time.Minute)

	if got := feedPrices(t, o, "100"); got != ActionExpire {
		t.Fatalf("action = %s, want expire", got)
	}
}

func TestSpecValidate(t *testing.T) {
	base := func() Spec {
		return Spec{
			Ticker:      "AAPL",
			Side:        types.SideSell,
			Quantity:    dec("10"),
			TrailAmount: dec("5"),
			LimitPrice:  dec("90"),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantErr bool
	}{
		{name: "valid amount trail", mutate: func(*Spec) {}},
		{
			name: "valid percent trail",
			mutate: func(s *Spec) {
				s.TrailAmount = decimal.Zero
				s.TrailPercent = dec("5")
			},
		},
		{name: "missing ticker", mutate: func(s *Spec) { s.Ticker = "" }, wantErr: true},
		{name: "bad side", mutate: func(s *Spec) { s.Side = "HOLD" }, wantErr: true},
		{name: "zero quantity", mutate: func(s *Spec) { s.Quantity = decimal.Zero }, wantErr: true},
		{name: "zero limit", mutate: func(s *Spec) { s.LimitPrice = decimal.Zero }, wantErr: true},
		{
			name:    "both trails",
			mutate:  func(s *Spec) { s.TrailPercent = dec("5") },
			wantErr: true,
		},
		{
			name:    "no trail",
			mutate:  func(s *Spec) { s.TrailAmount = decimal.Zero },
			wantErr: true,
		},
		{
			name: "percent too large",
			mutate: func(s *Spec) {
				s.TrailAmount = decimal.Zero
				s.TrailPercent = dec("100")
			},
			wantErr: true,
		},
		{
			name:    "expiry in the past",
			mutate:  func(s *Spec) { s.ExpiresAt = time.Now().Add(-time.Hour) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base()
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr {
				var verr *types.ValidationError
				if !asValidation(err, &verr) {
					t.Fatalf("error type = %T, want *types.ValidationError", err)
				}
			}
		})
	}
}

func asValidation(err error, target **types.ValidationError) bool {
	v, ok := err.(*types.ValidationError)
	if ok {
		*target = v
	}
	return ok
}
