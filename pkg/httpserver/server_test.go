package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevinzhu/tradekeeper/internal/alerts"
	"github.com/kevinzhu/tradekeeper/internal/feedwatch"
	"github.com/kevinzhu/tradekeeper/internal/gateway"
	"github.com/kevinzhu/tradekeeper/internal/ledger"
	"github.com/kevinzhu/tradekeeper/internal/orders"
	"github.com/kevinzhu/tradekeeper/internal/pricefeed"
	"github.com/kevinzhu/tradekeeper/internal/storage"
	"github.com/kevinzhu/tradekeeper/pkg/config"
	"github.com/kevinzhu/tradekeeper/pkg/healthprobe"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type testEnv struct {
	server *httptest.Server
	ledger *ledger.Engine
	orders *orders.Engine
	health *healthprobe.HealthChecker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	store := storage.NewMemoryStore(logger)
	sim := gateway.NewSimGateway(logger)
	led := ledger.New(&ledger.Config{OversellPolicy: config.OversellShort, Logger: logger})
	feed := pricefeed.New(&pricefeed.Config{Stream: pricefeed.NopStream{}, Logger: logger})

	orderEngine := orders.New(&orders.Config{
		Gateway:           sim,
		Store:             store,
		Feed:              feed,
		Ledger:            led,
		Logger:            logger,
		RetryInitialDelay: time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	})

	alertEvaluator := alerts.New(&alerts.Config{
		Feed:   feed,
		Store:  store,
		Logger: logger,
	})

	watchdog, err := feedwatch.New(&feedwatch.Config{
		StaleAfter:   time.Minute,
		ResumeWithin: time.Minute,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("new watchdog: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("start feed: %v", err)
	}
	if err := orderEngine.Start(ctx); err != nil {
		t.Fatalf("start orders: %v", err)
	}
	if err := alertEvaluator.Start(ctx); err != nil {
		t.Fatalf("start alerts: %v", err)
	}

	health := healthprobe.New()
	health.SetReady(true)

	srv := New(&Config{
		Port:          "0",
		Logger:        logger,
		HealthChecker: health,
		Orders:        orderEngine,
		Alerts:        alertEvaluator,
		Ledger:        led,
		FeedWatch:     watchdog,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		_ = orderEngine.Close()
		_ = alertEvaluator.Close()
		_ = feed.Close()
	})

	return &testEnv{server: ts, ledger: led, orders: orderEngine, health: health}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodGet, "/ready", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d", resp.StatusCode)
	}

	e.health.SetReady(false)
	resp, _ = e.do(t, http.MethodGet, "/ready", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("not-ready status = %d, want 503", resp.StatusCode)
	}
}

func TestPlaceOrderEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/orders", map[string]string{
		"ticker":       "AAPL",
		"side":         "SELL",
		"quantity":     "10",
		"trail_amount": "5",
		"limit_price":  "90",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var created orderResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == "" || created.State != "active" {
		t.Errorf("created order = %+v", created)
	}
	if created.Quantity != "10" || created.LimitPrice != "90" {
		t.Errorf("decimals not round-tripped: %+v", created)
	}

	resp, body = e.do(t, http.MethodGet, "/api/orders/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodGet, "/api/orders", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list []orderResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("orders listed = %d, want 1", len(list))
	}
}

func TestPlaceOrderValidationErrors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{
			name: "both trails",
			body: map[string]string{
				"ticker": "AAPL", "side": "SELL", "quantity": "10",
				"trail_amount": "5", "trail_percent": "5", "limit_price": "90",
			},
		},
		{
			name: "no trail",
			body: map[string]string{
				"ticker": "AAPL", "side": "SELL", "quantity": "10", "limit_price": "90",
			},
		},
		{
			name: "garbage quantity",
			body: map[string]string{
				"ticker": "AAPL", "side": "SELL", "quantity": "ten",
				"trail_amount": "5", "limit_price": "90",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := e.do(t, http.MethodPost, "/api/orders", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", resp.StatusCode, body)
			}
		})
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/api/orders", map[string]string{
		"ticker": "AAPL", "side": "SELL", "quantity": "10",
		"trail_amount": "5", "limit_price": "90",
	})
	var created orderResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	resp, _ := e.do(t, http.MethodDelete, "/api/orders/"+created.ID, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d, want 202", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodDelete, "/api/orders/no-such-order", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestAlertEndpoints(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/alerts", map[string]interface{}{
		"metric":           "USD/SGD",
		"operator":         "<",
		"threshold":        "1.30",
		"cooldown_seconds": 600,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var created alertResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.CooldownSeconds != 600 {
		t.Errorf("cooldown = %d, want 600", created.CooldownSeconds)
	}

	resp, body = e.do(t, http.MethodGet, "/api/alerts", nil)
	var list []alertResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("list status = %d, rules = %d", resp.StatusCode, len(list))
	}

	resp, _ = e.do(t, http.MethodDelete, "/api/alerts/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodDelete, "/api/alerts/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want 404", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/alerts", map[string]interface{}{
		"metric": "AAPL", "operator": "=~", "threshold": "1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad operator status = %d, want 400", resp.StatusCode)
	}
}

func TestPnLEndpoints(t *testing.T) {
	e := newTestEnv(t)

	trades := []*types.Trade{
		{ID: "t1", Ticker: "AAPL", Side: types.SideBuy, Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), ExecutedAt: time.Now()},
		{ID: "t2", Ticker: "AAPL", Side: types.SideSell, Quantity: decimal.NewFromInt(4), Price: decimal.NewFromInt(120), ExecutedAt: time.Now()},
	}
	for _, trade := range trades {
		if err := e.ledger.RecordTrade(trade); err != nil {
			t.Fatalf("record trade: %v", err)
		}
	}

	resp, body := e.do(t, http.MethodGet, "/api/pnl/AAPL", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var summary pnlResponse
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if summary.RealizedPnL != "80" {
		t.Errorf("realized = %s, want 80", summary.RealizedPnL)
	}
	if summary.OpenQuantity != "6" {
		t.Errorf("open quantity = %s, want 6", summary.OpenQuantity)
	}

	resp, body = e.do(t, http.MethodGet, "/api/pnl", nil)
	var all []pnlResponse
	if err := json.Unmarshal(body, &all); err != nil {
		t.Fatalf("unmarshal all: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(all) != 1 {
		t.Fatalf("list status = %d, summaries = %d", resp.StatusCode, len(all))
	}

	resp, _ = e.do(t, http.MethodGet, "/api/pnl/UNKNOWN", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown ticker status = %d, want 404", resp.StatusCode)
	}
}

func TestFeedStatusEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodGet, "/api/feed", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if healthy, ok := status["healthy"].(bool); !ok || !healthy {
		t.Errorf("feed status = %v, want healthy", status)
	}
}
