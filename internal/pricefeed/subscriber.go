package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuoteStream controls the underlying gateway quote subscription. The
// websocket manager implements it for live runs; the simulated gateway
// needs no stream control and uses NopStream.
type QuoteStream interface {
	Subscribe(ctx context.Context, tickers []string) error
	Unsubscribe(ctx context.Context, tickers []string) error
}

// NopStream is a QuoteStream for feeds whose ticks are injected directly
// (simulation, FX polling).
type NopStream struct{}

func (NopStream) Subscribe(context.Context, []string) error   { return nil }
func (NopStream) Unsubscribe(context.Context, []string) error { return nil }

// Subscriber normalizes raw gateway quote messages into PriceTicks,
// deduplicates identical consecutive values, and fans ticks out to all
// consumers of each metric. No consumer may block another: fanout sends
// are non-blocking with per-metric drop accounting.
type Subscriber struct {
	mu    sync.Mutex
	subs  map[string][]*Subscription
	last  map[string]decimal.Decimal // last delivered value per metric
	count map[string]int             // consumer refcount per ticker

	stream    QuoteStream
	msgChan   <-chan *types.QuoteMessage
	observers []func(types.PriceTick)
	logger    *zap.Logger
	ctx       context.Context
	wg        sync.WaitGroup
}

// Config holds price feed subscriber configuration.
type Config struct {
	Stream         QuoteStream
	MessageChannel <-chan *types.QuoteMessage

	// Observers are invoked synchronously for every published tick,
	// before fanout. They must not block.
	Observers []func(types.PriceTick)

	Logger *zap.Logger
}

// New creates a new price feed subscriber.
func New(cfg *Config) *Subscriber {
	return &Subscriber{
		subs:      make(map[string][]*Subscription),
		last:      make(map[string]decimal.Decimal),
		count:     make(map[string]int),
		stream:    cfg.Stream,
		msgChan:   cfg.MessageChannel,
		observers: cfg.Observers,
		logger:    cfg.Logger,
	}
}

// Subscription is one consumer's handle on a metric's tick stream.
type Subscription struct {
	metric string
	ch     chan types.PriceTick
	parent *Subscriber
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

// Ticks returns the subscription's tick channel.
func (s *Subscription) Ticks() <-chan types.PriceTick {
	return s.ch
}

// deliver offers one tick without blocking. The closed check and the send
// hold the same lock the close takes, so a publish in flight can never hit
// a closed channel. Returns false only when the consumer's buffer is full.
func (s *Subscription) deliver(tick types.PriceTick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.ch <- tick:
		return true
	default:
		return false
	}
}

// Close releases the subscription. Releasing the last consumer of a ticker
// releases the underlying gateway subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.parent.release(s)
	})
}

// Start begins processing raw quote messages.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ctx
	s.logger.Info("price-feed-starting")

	if s.msgChan != nil {
		s.wg.Add(1)
		go s.processMessages()
	}

	return nil
}

func (s *Subscriber) processMessages() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("price-feed-stopping")
			return
		case msg, ok := <-s.msgChan:
			if !ok {
				s.logger.Info("quote-channel-closed")
				return
			}

			tick, err := normalize(msg)
			if err != nil {
				s.logger.Warn("quote-normalize-error",
					zap.Error(err),
					zap.String("ticker", msg.Ticker))
				TicksMalformedTotal.Inc()
				continue
			}

			s.Publish(tick)
		}
	}
}

// normalize converts a raw gateway quote message into a PriceTick.
func normalize(msg *types.QuoteMessage) (types.PriceTick, error) {
	if msg.Ticker == "" {
		return types.PriceTick{}, fmt.Errorf("empty ticker")
	}

	value, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return types.PriceTick{}, fmt.Errorf("parse price %q: %w", msg.Price, err)
	}
	if !value.IsPositive() {
		return types.PriceTick{}, fmt.Errorf("non-positive price %s", value)
	}

	at := time.Now().UTC()
	if msg.Timestamp > 0 {
		at = time.UnixMilli(msg.Timestamp).UTC()
	}

	return types.PriceTick{Metric: msg.Ticker, Value: value, At: at}, nil
}

// Publish routes a tick to all subscribers of its metric. Identical
// consecutive values are dropped. Also the injection point for non-gateway
// metrics such as FX rates.
func (s *Subscriber) Publish(tick types.PriceTick) {
	s.mu.Lock()

	if last, ok := s.last[tick.Metric]; ok && last.Equal(tick.Value) {
		s.mu.Unlock()
		TicksDedupedTotal.Inc()
		return
	}
	s.last[tick.Metric] = tick.Value

	targets := make([]*Subscription, len(s.subs[tick.Metric]))
	copy(targets, s.subs[tick.Metric])
	s.mu.Unlock()

	TicksPublishedTotal.WithLabelValues(tick.Metric).Inc()

	for _, observe := range s.observers {
		observe(tick)
	}

	for _, sub := range targets {
		if !sub.deliver(tick) {
			// Consumer is behind; dropping beats stalling other tickers.
			TicksDroppedTotal.WithLabelValues(tick.Metric).Inc()
			s.logger.Warn("tick-dropped-slow-consumer",
				zap.String("metric", tick.Metric),
				zap.Int("buffer-size", cap(sub.ch)))
		}
	}
}

// Subscribe registers a consumer for a metric's tick stream. The first
// consumer of a ticker acquires the underlying gateway subscription.
func (s *Subscriber) Subscribe(ctx context.Context, metric string, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = 64
	}

	sub := &Subscription{
		metric: metric,
		ch:     make(chan types.PriceTick, buffer),
		parent: s,
	}

	s.mu.Lock()
	first := s.count[metric] == 0
	s.count[metric]++
	s.subs[metric] = append(s.subs[metric], sub)
	total := s.count[metric]
	s.mu.Unlock()

	if first {
		err := s.stream.Subscribe(ctx, []string{metric})
		if err != nil {
			s.release(sub)
			return nil, fmt.Errorf("subscribe quote stream: %w", err)
		}
	}

	SubscriptionsActive.Inc()
	s.logger.Debug("metric-subscribed",
		zap.String("metric", metric),
		zap.Int("consumer-count", total))

	return sub, nil
}

// release removes a subscription and releases the gateway subscription
// when the last consumer of a ticker goes away.
func (s *Subscriber) release(sub *Subscription) {
	s.mu.Lock()

	consumers := s.subs[sub.metric]
	for i, c := range consumers {
		if c == sub {
			s.subs[sub.metric] = append(consumers[:i], consumers[i+1:]...)
			break
		}
	}

	s.count[sub.metric]--
	last := s.count[sub.metric] == 0
	if last {
		delete(s.subs, sub.metric)
		delete(s.count, sub.metric)
		delete(s.last, sub.metric)
	}
	s.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	close(sub.ch)
	sub.mu.Unlock()
	SubscriptionsActive.Dec()

	if last {
		err := s.stream.Unsubscribe(context.Background(), []string{sub.metric})
		if err != nil {
			s.logger.Warn("unsubscribe-quote-stream-error",
				zap.Error(err),
				zap.String("metric", sub.metric))
		}
		s.logger.Debug("gateway-subscription-released", zap.String("metric", sub.metric))
	}
}

// Close waits for message processing to stop.
func (s *Subscriber) Close() error {
	s.logger.Info("closing-price-feed")
	s.wg.Wait()
	return nil
}
