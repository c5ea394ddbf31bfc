package fx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevinzhu/tradekeeper/internal/pricefeed"
	"github.com/kevinzhu/tradekeeper/pkg/cache"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func rateServer(t *testing.T, rates map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from := r.URL.Query().Get("from")
		to := r.URL.Query().Get("to")
		rate, ok := rates[from+"/"+to]
		if !ok {
			http.Error(w, "unknown pair", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"amount":1.0,"base":%q,"date":"2026-08-29","rates":{%q:%v}}`, from, to, rate)
	}))
}

func TestNewRejectsMalformedPairs(t *testing.T) {
	for _, raw := range []string{"USDSGD", "USD/", "/SGD", "USD/SGD/HKD"} {
		_, err := New(&Config{Pairs: []string{raw}, Logger: zap.NewNop()})
		var verr *types.ValidationError
		if ok := asValidationError(err, &verr); !ok {
			t.Errorf("pair %q: error = %v, want validation error", raw, err)
		}
	}
}

func asValidationError(err error, target **types.ValidationError) bool {
	v, ok := err.(*types.ValidationError)
	if ok {
		*target = v
	}
	return ok
}

func TestPollPublishesRateTick(t *testing.T) {
	server := rateServer(t, map[string]float64{"USD/SGD": 1.3421})
	defer server.Close()

	logger := zap.NewNop()
	feed := pricefeed.New(&pricefeed.Config{Stream: pricefeed.NopStream{}, Logger: logger})

	svc, err := New(&Config{
		BaseURL:      server.URL,
		Pairs:        []string{"usd/sgd"},
		PollInterval: time.Hour,
		Feed:         feed,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("start feed: %v", err)
	}

	sub, err := feed.Subscribe(ctx, "USD/SGD", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}

	select {
	case tick := <-sub.Ticks():
		if tick.Metric != "USD/SGD" {
			t.Errorf("metric = %s, want USD/SGD", tick.Metric)
		}
		if !tick.Value.Equal(decimal.NewFromFloat(1.3421)) {
			t.Errorf("value = %s, want 1.3421", tick.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rate tick")
	}

	cancel()
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRateServedFromCache(t *testing.T) {
	server := rateServer(t, map[string]float64{"USD/HKD": 7.81})
	defer server.Close()

	logger := zap.NewNop()
	feed := pricefeed.New(&pricefeed.Config{Stream: pricefeed.NopStream{}, Logger: logger})

	c, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	svc, err := New(&Config{
		BaseURL:      server.URL,
		Pairs:        []string{"USD/HKD"},
		PollInterval: time.Hour,
		Feed:         feed,
		Cache:        c,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("start feed: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.(*cache.RistrettoCache).Wait()
		if rate, ok := svc.Rate("USD/HKD"); ok {
			if !rate.Equal(decimal.NewFromFloat(7.81)) {
				t.Errorf("rate = %s, want 7.81", rate)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("rate never appeared in cache")
}

func TestFetchErrorDoesNotPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	logger := zap.NewNop()
	feed := pricefeed.New(&pricefeed.Config{Stream: pricefeed.NopStream{}, Logger: logger})

	svc, err := New(&Config{
		BaseURL:      server.URL,
		Pairs:        []string{"USD/SGD"},
		PollInterval: time.Hour,
		Feed:         feed,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("start feed: %v", err)
	}

	sub, err := feed.Subscribe(ctx, "USD/SGD", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}

	select {
	case tick := <-sub.Ticks():
		t.Fatalf("unexpected tick after fetch error: %+v", tick)
	case <-time.After(100 * time.Millisecond):
	}
}
