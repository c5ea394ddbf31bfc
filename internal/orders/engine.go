package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kevinzhu/tradekeeper/internal/gateway"
	"github.com/kevinzhu/tradekeeper/internal/pricefeed"
	"github.com/kevinzhu/tradekeeper/internal/storage"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"go.uber.org/zap"
)

// TradeRecorder receives fills produced by triggered orders.
type TradeRecorder interface {
	RecordTrade(trade *types.Trade) error
}

// Notifier pushes human-facing event notifications.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// HealthGate reports whether the price feed is currently trustworthy.
// While it reports unhealthy, trigger evaluation is paused so that stale
// prices cannot fire orders.
type HealthGate interface {
	IsHealthy() bool
}

// Config holds order engine configuration.
type Config struct {
	Gateway  gateway.Gateway
	Store    storage.Store
	Feed     *pricefeed.Subscriber
	Ledger   TradeRecorder
	Notifier Notifier
	Logger   *zap.Logger

	// FeedHealth gates trigger evaluation. Nil means always healthy.
	FeedHealth HealthGate

	MaxSubmitAttempts int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	PollInterval      time.Duration
}

// Engine owns the synthetic order lifecycle: one watcher goroutine per
// open order, trigger evaluation on every tick, native submission with
// bounded retry, and fill tracking back into the ledger.
type Engine struct {
	mu      sync.Mutex
	orders  map[string]*types.SyntheticOrder
	cancels map[string]chan struct{}

	gateway  gateway.Gateway
	store    storage.Store
	feed     *pricefeed.Subscriber
	ledger   TradeRecorder
	notifier Notifier
	health   HealthGate
	logger   *zap.Logger

	maxAttempts  int
	retryInitial time.Duration
	retryMax     time.Duration
	pollInterval time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a new synthetic order engine.
func New(cfg *Config) *Engine {
	maxAttempts := cfg.MaxSubmitAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryInitial := cfg.RetryInitialDelay
	if retryInitial <= 0 {
		retryInitial = 500 * time.Millisecond
	}
	retryMax := cfg.RetryMaxDelay
	if retryMax <= 0 {
		retryMax = 10 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Engine{
		orders:       make(map[string]*types.SyntheticOrder),
		cancels:      make(map[string]chan struct{}),
		gateway:      cfg.Gateway,
		store:        cfg.Store,
		feed:         cfg.Feed,
		ledger:       cfg.Ledger,
		notifier:     cfg.Notifier,
		health:       cfg.FeedHealth,
		logger:       cfg.Logger,
		maxAttempts:  maxAttempts,
		retryInitial: retryInitial,
		retryMax:     retryMax,
		pollInterval: pollInterval,
	}
}

// Start recovers persisted open orders and begins watching them.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx
	e.logger.Info("order-engine-starting")

	if err := e.recoverOpenOrders(ctx); err != nil {
		return fmt.Errorf("recover open orders: %w", err)
	}

	return nil
}

// PlaceOrder validates and activates a new synthetic order. The returned
// order is a snapshot; the engine owns the live copy.
func (e *Engine) PlaceOrder(ctx context.Context, spec *Spec) (*types.SyntheticOrder, error) {
	if err := spec.Validate(); err != nil {
		OrdersRejectedTotal.Inc()
		return nil, err
	}

	o := newOrder(spec, time.Now().UTC())
	if err := e.store.SaveOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	e.mu.Lock()
	o.State = types.OrderActive
	o.UpdatedAt = time.Now().UTC()
	e.orders[o.ID] = o
	e.persistLocked(o)
	snapshot := *o
	e.mu.Unlock()

	e.startRunner(o)

	OrdersPlacedTotal.WithLabelValues(string(o.Side)).Inc()
	e.logger.Info("synthetic-order-placed",
		zap.String("order-id", o.ID),
		zap.String("ticker", o.Ticker),
		zap.String("side", string(o.Side)),
		zap.String("quantity", o.Quantity.String()),
		zap.String("limit-price", o.LimitPrice.String()))

	return &snapshot, nil
}

// CancelOrder requests cancellation. Active orders cancel immediately;
// triggered orders race their native order, and a fill that lands first
// wins. Terminal orders return a state conflict.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return &types.StateConflictError{OrderID: orderID, State: "unknown", Requested: "cancel"}
	}
	if o.State.Terminal() {
		state := o.State
		e.mu.Unlock()
		return &types.StateConflictError{OrderID: orderID, State: state, Requested: "cancel"}
	}
	cancelCh := e.cancels[orderID]
	e.mu.Unlock()

	select {
	case <-cancelCh:
		// already requested
	default:
		close(cancelCh)
	}

	e.logger.Info("synthetic-order-cancel-requested", zap.String("order-id", orderID))
	return nil
}

// Get returns a snapshot of one order.
func (e *Engine) Get(orderID string) (*types.SyntheticOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return nil, false
	}
	snapshot := *o
	return &snapshot, true
}

// List returns snapshots of all orders the engine knows about, newest
// first.
func (e *Engine) List() []*types.SyntheticOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*types.SyntheticOrder, 0, len(e.orders))
	for _, o := range e.orders {
		snapshot := *o
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// startRunner registers a cancel channel and spawns the order's watcher.
func (e *Engine) startRunner(o *types.SyntheticOrder) {
	e.mu.Lock()
	cancelCh, ok := e.cancels[o.ID]
	if !ok {
		cancelCh = make(chan struct{})
		e.cancels[o.ID] = cancelCh
	}
	e.mu.Unlock()

	OrdersActive.Inc()
	e.wg.Add(1)
	go e.runOrder(o, cancelCh)
}

// persistLocked writes the order through to storage. Persistence failures
// are logged, not fatal: the in-memory state machine stays authoritative
// until the next successful save.
func (e *Engine) persistLocked(o *types.SyntheticOrder) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.store.SaveOrder(ctx, o); err != nil {
		e.logger.Error("order-persist-error",
			zap.Error(err),
			zap.String("order-id", o.ID),
			zap.String("state", string(o.State)))
	}
}

// notify sends a best-effort notification.
func (e *Engine) notify(title, message string) {
	if e.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.notifier.Notify(ctx, title, message); err != nil {
		e.logger.Warn("order-notify-error", zap.Error(err), zap.String("title", title))
	}
}

// Close waits for all order watchers to stop.
func (e *Engine) Close() error {
	e.logger.Info("closing-order-engine")
	e.wg.Wait()
	return nil
}
