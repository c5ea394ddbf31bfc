package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestHTTPGateway(t *testing.T, handler http.Handler) (*HTTPGateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw := NewHTTPGateway(&HTTPConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Logger:  zap.NewNop(),
	})
	return gw, srv
}

func TestHTTPGateway_GetTradeHistory(t *testing.T) {
	gw, _ := newTestHTTPGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acct-1/trades" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"trade_id":"t-1","ticker":"US.NVDA","side":"BUY","quantity":"10","price":"120.50","executed_at":1764684000},
			{"trade_id":"t-2","ticker":"US.NVDA","side":"SELL","quantity":"4","price":"130","executed_at":1764687600}
		]`))
	}))

	trades, err := gw.GetTradeHistory(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].ID != "t-1" || !trades[0].Quantity.Equal(dec("10")) {
		t.Errorf("trade 0 = %+v", trades[0])
	}
	if trades[1].Side != types.SideSell || !trades[1].Price.Equal(dec("130")) {
		t.Errorf("trade 1 = %+v", trades[1])
	}
	if trades[0].ExecutedAt.IsZero() {
		t.Error("executed at not parsed")
	}
}

func TestHTTPGateway_GetTradeHistory_MalformedQuantity(t *testing.T) {
	gw, _ := newTestHTTPGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"trade_id":"t-1","ticker":"US.NVDA","side":"BUY","quantity":"ten","price":"1","executed_at":0}]`))
	}))

	_, err := gw.GetTradeHistory(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected error for malformed quantity")
	}
}

func TestHTTPGateway_PlaceOrder(t *testing.T) {
	gw, _ := newTestHTTPGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"broker-42"}`))
	}))

	id, err := gw.PlaceOrder(context.Background(), &NativeOrderSpec{
		Ticker:   "US.NVDA",
		Side:     types.SideSell,
		Quantity: dec("10"),
		Type:     OrderTypeMarket,
		Remark:   "tradekeeper:abc",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if id != "broker-42" {
		t.Errorf("order id = %s, want broker-42", id)
	}
}

func TestHTTPGateway_PlaceOrder_RejectionCodes(t *testing.T) {
	tests := []struct {
		name          string
		code          string
		wantRetryable bool
	}{
		{name: "rate-limited-is-retryable", code: types.ErrRateLimited, wantRetryable: true},
		{name: "market-closed-is-retryable", code: types.ErrMarketClosed, wantRetryable: true},
		{name: "insufficient-shares-is-terminal", code: types.ErrInsufficientShares, wantRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, _ := newTestHTTPGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"code":"` + tt.code + `","message":"rejected"}`))
			}))

			_, err := gw.PlaceOrder(context.Background(), &NativeOrderSpec{
				Ticker:   "US.NVDA",
				Side:     types.SideSell,
				Quantity: dec("1"),
				Type:     OrderTypeMarket,
			})

			var gerr *types.GatewayError
			if !errors.As(err, &gerr) {
				t.Fatalf("expected GatewayError, got %v", err)
			}
			if gerr.Code != tt.code {
				t.Errorf("code = %s, want %s", gerr.Code, tt.code)
			}
			if gerr.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", gerr.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestHTTPGateway_PlaceOrder_ConnectionErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening

	gw := NewHTTPGateway(&HTTPConfig{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Logger:  zap.NewNop(),
	})

	_, err := gw.PlaceOrder(context.Background(), &NativeOrderSpec{
		Ticker:   "US.NVDA",
		Side:     types.SideSell,
		Quantity: dec("1"),
		Type:     OrderTypeMarket,
	})

	var gerr *types.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if !gerr.Retryable {
		t.Error("connection errors should be retryable")
	}
}

func TestHTTPGateway_CancelOrder_NotFound(t *testing.T) {
	gw, _ := newTestHTTPGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	err := gw.CancelOrder(context.Background(), "missing")

	var gerr *types.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gerr.Code != types.ErrOrderNotFound {
		t.Errorf("code = %s, want %s", gerr.Code, types.ErrOrderNotFound)
	}
}

func TestHTTPGateway_GetOrderStatus(t *testing.T) {
	gw, _ := newTestHTTPGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/broker-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"order_id":"broker-42","status":"filled","filled_qty":"10","avg_fill_price":"101.25"}`))
	}))

	report, err := gw.GetOrderStatus(context.Background(), "broker-42")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if report.Status != StatusFilled {
		t.Errorf("status = %s, want filled", report.Status)
	}
	if !report.AvgFillPrice.Equal(dec("101.25")) {
		t.Errorf("avg fill price = %s, want 101.25", report.AvgFillPrice)
	}
}

func TestSimGateway_MarketOrderFillsAtLastPrice(t *testing.T) {
	sim := NewSimGateway(zap.NewNop())
	sim.SetLastPrice("US.NVDA", dec("98.40"))

	id, err := sim.PlaceOrder(context.Background(), &NativeOrderSpec{
		Ticker:   "US.NVDA",
		Side:     types.SideSell,
		Quantity: dec("10"),
		Type:     OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	report, err := sim.GetOrderStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != StatusFilled {
		t.Errorf("status = %s, want filled", report.Status)
	}
	if !report.AvgFillPrice.Equal(dec("98.40")) {
		t.Errorf("fill price = %s, want 98.40", report.AvgFillPrice)
	}

	// The fill shows up in trade history
	trades, err := sim.GetTradeHistory(context.Background(), "any")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != id {
		t.Errorf("trade history = %+v", trades)
	}
}

func TestSimGateway_MarketOrderWithoutPriceFails(t *testing.T) {
	sim := NewSimGateway(zap.NewNop())

	_, err := sim.PlaceOrder(context.Background(), &NativeOrderSpec{
		Ticker:   "US.UNKNOWN",
		Side:     types.SideSell,
		Quantity: dec("1"),
		Type:     OrderTypeMarket,
	})
	if err == nil {
		t.Fatal("expected error without a published price")
	}
}

func TestSimGateway_LimitOrderFillsAtLimit(t *testing.T) {
	sim := NewSimGateway(zap.NewNop())

	id, err := sim.PlaceOrder(context.Background(), &NativeOrderSpec{
		Ticker:     "US.NVDA",
		Side:       types.SideSell,
		Quantity:   dec("10"),
		Type:       OrderTypeLimit,
		LimitPrice: dec("90"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	report, _ := sim.GetOrderStatus(context.Background(), id)
	if !report.AvgFillPrice.Equal(dec("90")) {
		t.Errorf("fill price = %s, want limit 90", report.AvgFillPrice)
	}
}

func TestSimGateway_RejectAllIsRetryable(t *testing.T) {
	sim := NewSimGateway(zap.NewNop())
	sim.SetRejectAll(true)

	_, err := sim.PlaceOrder(context.Background(), &NativeOrderSpec{
		Ticker:   "US.NVDA",
		Side:     types.SideSell,
		Quantity: dec("1"),
		Type:     OrderTypeLimit,
	})

	var gerr *types.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if !gerr.Retryable {
		t.Error("simulated rejection should be retryable")
	}
}

func TestSimGateway_CancelLeavesFilledOrdersAlone(t *testing.T) {
	sim := NewSimGateway(zap.NewNop())
	sim.SetLastPrice("US.NVDA", dec("100"))

	id, err := sim.PlaceOrder(context.Background(), &NativeOrderSpec{
		Ticker:   "US.NVDA",
		Side:     types.SideSell,
		Quantity: dec("1"),
		Type:     OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if err := sim.CancelOrder(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	report, _ := sim.GetOrderStatus(context.Background(), id)
	if report.Status != StatusFilled {
		t.Errorf("status = %s, want filled after cancel", report.Status)
	}
}
