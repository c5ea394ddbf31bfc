package pricefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type recordingStream struct {
	mu           sync.Mutex
	subscribed   [][]string
	unsubscribed [][]string
}

func (r *recordingStream) Subscribe(_ context.Context, tickers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, tickers)
	return nil
}

func (r *recordingStream) Unsubscribe(_ context.Context, tickers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribed = append(r.unsubscribed, tickers)
	return nil
}

func newTestSubscriber(t *testing.T, stream QuoteStream, msgs <-chan *types.QuoteMessage) *Subscriber {
	t.Helper()
	if stream == nil {
		stream = NopStream{}
	}
	return New(&Config{
		Stream:         stream,
		MessageChannel: msgs,
		Logger:         zap.NewNop(),
	})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		msg     types.QuoteMessage
		wantErr bool
	}{
		{
			name: "valid quote",
			msg:  types.QuoteMessage{Ticker: "AAPL", Price: "187.25", Timestamp: 1700000000000},
		},
		{
			name:    "empty ticker",
			msg:     types.QuoteMessage{Price: "10"},
			wantErr: true,
		},
		{
			name:    "unparseable price",
			msg:     types.QuoteMessage{Ticker: "AAPL", Price: "n/a"},
			wantErr: true,
		},
		{
			name:    "zero price",
			msg:     types.QuoteMessage{Ticker: "AAPL", Price: "0"},
			wantErr: true,
		},
		{
			name:    "negative price",
			msg:     types.QuoteMessage{Ticker: "AAPL", Price: "-1.50"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick, err := normalize(&tt.msg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got tick %+v", tick)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tick.Metric != tt.msg.Ticker {
				t.Errorf("metric = %s, want %s", tick.Metric, tt.msg.Ticker)
			}
			want, _ := decimal.NewFromString(tt.msg.Price)
			if !tick.Value.Equal(want) {
				t.Errorf("value = %s, want %s", tick.Value, want)
			}
			if tick.At.UnixMilli() != tt.msg.Timestamp {
				t.Errorf("at = %d, want %d", tick.At.UnixMilli(), tt.msg.Timestamp)
			}
		})
	}
}

func TestPublishFanout(t *testing.T) {
	s := newTestSubscriber(t, nil, nil)

	sub1, err := s.Subscribe(context.Background(), "AAPL", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub1.Close()

	sub2, err := s.Subscribe(context.Background(), "AAPL", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub2.Close()

	other, err := s.Subscribe(context.Background(), "MSFT", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer other.Close()

	s.Publish(types.PriceTick{
		Metric: "AAPL",
		Value:  decimal.NewFromInt(190),
		At:     time.Now(),
	})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case tick := <-sub.Ticks():
			if !tick.Value.Equal(decimal.NewFromInt(190)) {
				t.Errorf("value = %s, want 190", tick.Value)
			}
		default:
			t.Fatal("expected tick on subscription")
		}
	}

	select {
	case tick := <-other.Ticks():
		t.Fatalf("unexpected tick on MSFT subscription: %+v", tick)
	default:
	}
}

func TestPublishDedupesConsecutiveIdenticalValues(t *testing.T) {
	s := newTestSubscriber(t, nil, nil)

	sub, err := s.Subscribe(context.Background(), "AAPL", 8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	price := decimal.NewFromFloat(187.25)
	s.Publish(types.PriceTick{Metric: "AAPL", Value: price, At: time.Now()})
	s.Publish(types.PriceTick{Metric: "AAPL", Value: price, At: time.Now()})
	s.Publish(types.PriceTick{Metric: "AAPL", Value: decimal.NewFromFloat(187.30), At: time.Now()})

	var got []types.PriceTick
	for {
		select {
		case tick := <-sub.Ticks():
			got = append(got, tick)
			continue
		default:
		}
		break
	}

	if len(got) != 2 {
		t.Fatalf("got %d ticks, want 2 (duplicate dropped)", len(got))
	}
}

func TestSlowConsumerDoesNotBlockPublish(t *testing.T) {
	s := newTestSubscriber(t, nil, nil)

	sub, err := s.Subscribe(context.Background(), "AAPL", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			s.Publish(types.PriceTick{
				Metric: "AAPL",
				Value:  decimal.NewFromInt(int64(100 + i)),
				At:     time.Now(),
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow consumer")
	}
}

func TestStreamRefcounting(t *testing.T) {
	stream := &recordingStream{}
	s := newTestSubscriber(t, stream, nil)

	sub1, err := s.Subscribe(context.Background(), "AAPL", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub2, err := s.Subscribe(context.Background(), "AAPL", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	stream.mu.Lock()
	subCalls := len(stream.subscribed)
	stream.mu.Unlock()
	if subCalls != 1 {
		t.Fatalf("stream subscribe calls = %d, want 1", subCalls)
	}

	sub1.Close()
	stream.mu.Lock()
	unsubCalls := len(stream.unsubscribed)
	stream.mu.Unlock()
	if unsubCalls != 0 {
		t.Fatalf("stream unsubscribed with a consumer remaining")
	}

	sub2.Close()
	stream.mu.Lock()
	unsubCalls = len(stream.unsubscribed)
	stream.mu.Unlock()
	if unsubCalls != 1 {
		t.Fatalf("stream unsubscribe calls = %d, want 1", unsubCalls)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	stream := &recordingStream{}
	s := newTestSubscriber(t, stream, nil)

	sub, err := s.Subscribe(context.Background(), "AAPL", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub.Close()
	sub.Close()

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.unsubscribed) != 1 {
		t.Fatalf("stream unsubscribe calls = %d, want 1", len(stream.unsubscribed))
	}
}

func TestProcessMessagesPublishesNormalizedTicks(t *testing.T) {
	msgs := make(chan *types.QuoteMessage, 4)
	s := newTestSubscriber(t, nil, msgs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	sub, err := s.Subscribe(ctx, "AAPL", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	msgs <- &types.QuoteMessage{Ticker: "AAPL", Price: "bogus"}
	msgs <- &types.QuoteMessage{Ticker: "AAPL", Price: "191.10", Timestamp: 1700000000000}

	select {
	case tick := <-sub.Ticks():
		if !tick.Value.Equal(decimal.NewFromFloat(191.10)) {
			t.Errorf("value = %s, want 191.10", tick.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}

	cancel()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestObserversSeeEveryPublishedTick(t *testing.T) {
	var mu sync.Mutex
	var seen []types.PriceTick

	s := New(&Config{
		Stream: NopStream{},
		Observers: []func(types.PriceTick){
			func(tick types.PriceTick) {
				mu.Lock()
				seen = append(seen, tick)
				mu.Unlock()
			},
		},
		Logger: zap.NewNop(),
	})

	// No consumer subscribed; observers still fire
	s.Publish(types.PriceTick{Metric: "US.NVDA", Value: decimal.NewFromInt(100), At: time.Now()})
	s.Publish(types.PriceTick{Metric: "US.NVDA", Value: decimal.NewFromInt(100), At: time.Now()}) // deduped
	s.Publish(types.PriceTick{Metric: "US.NVDA", Value: decimal.NewFromInt(101), At: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("observer saw %d ticks, want 2", len(seen))
	}
	if !seen[1].Value.Equal(decimal.NewFromInt(101)) {
		t.Errorf("last observed value = %s, want 101", seen[1].Value)
	}
}

func TestPublishSurvivesCloseDuringFanout(t *testing.T) {
	// Observers run between the subscriber snapshot and the fanout sends,
	// so closing from one lands a Close exactly inside the publish window.
	// The send must skip the closed subscription instead of panicking.
	var sub *Subscription

	s := New(&Config{
		Stream: NopStream{},
		Observers: []func(types.PriceTick){
			func(types.PriceTick) {
				if sub != nil {
					sub.Close()
				}
			},
		},
		Logger: zap.NewNop(),
	})

	var err error
	sub, err = s.Subscribe(context.Background(), "US.NVDA", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s.Publish(types.PriceTick{Metric: "US.NVDA", Value: decimal.NewFromInt(100), At: time.Now()})

	if _, ok := <-sub.Ticks(); ok {
		t.Error("tick delivered to a closed subscription")
	}

	// The metric's state was released; a fresh value publishes cleanly.
	s.Publish(types.PriceTick{Metric: "US.NVDA", Value: decimal.NewFromInt(101), At: time.Now()})
}
