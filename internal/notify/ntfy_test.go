package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestNotifyPublishesToTopic(t *testing.T) {
	var gotPath, gotTitle, gotPriority, gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(&Config{
		BaseURL: server.URL,
		Topic:   "tradekeeper-alerts",
		Logger:  zap.NewNop(),
	})

	err := c.Notify(context.Background(), "Order filled", "AAPL SELL 10 @ 103")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	if gotPath != "/tradekeeper-alerts" {
		t.Errorf("path = %s, want /tradekeeper-alerts", gotPath)
	}
	if gotTitle != "Order filled" {
		t.Errorf("title = %q", gotTitle)
	}
	if gotPriority != "default" {
		t.Errorf("priority = %q, want default", gotPriority)
	}
	if gotBody != "AAPL SELL 10 @ 103" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestNotifyUrgentSetsHighPriority(t *testing.T) {
	var gotPriority string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPriority = r.Header.Get("Priority")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, Topic: "t", Logger: zap.NewNop()})
	if err := c.NotifyUrgent(context.Background(), "Feed stale", "no ticks for 30s"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotPriority != "high" {
		t.Errorf("priority = %q, want high", gotPriority)
	}
}

func TestNotifyErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, Topic: "t", Logger: zap.NewNop()})
	if err := c.Notify(context.Background(), "x", "y"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestEmptyTopicDisablesDelivery(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, Topic: "", Logger: zap.NewNop()})
	if err := c.Notify(context.Background(), "x", "y"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if called {
		t.Fatal("disabled client hit the server")
	}
}
