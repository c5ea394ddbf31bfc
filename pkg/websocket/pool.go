package websocket

import (
	"context"
	"fmt"
	"hash/crc32"
	"reflect"
	"sync"
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"go.uber.org/zap"
)

// PoolConfig holds WebSocket pool configuration.
type PoolConfig struct {
	Size                  int // Number of WebSocket connections
	WSUrl                 string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int // Per-connection buffer size
	Logger                *zap.Logger
}

// Pool manages multiple WebSocket connections, sharding ticker
// subscriptions across them so one busy symbol cannot saturate the whole
// quote stream.
type Pool struct {
	cfg                PoolConfig
	managers           []*Manager
	tickerToIndex      map[string]int // ticker -> manager index
	totalSubscriptions int
	mu                 sync.RWMutex
	messageChan        chan *types.QuoteMessage // multiplexed from all managers
	ctx                context.Context
	cancel             context.CancelFunc
	wg                 sync.WaitGroup
	logger             *zap.Logger
}

// NewPool creates a new WebSocket connection pool.
func NewPool(cfg PoolConfig) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	messageBufferSize := cfg.Size * cfg.MessageBufferSize

	pool := &Pool{
		cfg:           cfg,
		managers:      make([]*Manager, cfg.Size),
		tickerToIndex: make(map[string]int),
		messageChan:   make(chan *types.QuoteMessage, messageBufferSize),
		ctx:           ctx,
		cancel:        cancel,
		logger:        cfg.Logger,
	}

	for i := 0; i < cfg.Size; i++ {
		managerCfg := Config{
			URL:                   cfg.WSUrl,
			DialTimeout:           cfg.DialTimeout,
			PongTimeout:           cfg.PongTimeout,
			PingInterval:          cfg.PingInterval,
			ReconnectInitialDelay: cfg.ReconnectInitialDelay,
			ReconnectMaxDelay:     cfg.ReconnectMaxDelay,
			ReconnectBackoffMult:  cfg.ReconnectBackoffMult,
			MessageBufferSize:     cfg.MessageBufferSize,
			Logger:                cfg.Logger.With(zap.Int("manager-id", i)),
		}

		pool.managers[i] = New(managerCfg)
	}

	return pool
}

// Start starts all WebSocket managers in the pool.
func (p *Pool) Start() error {
	p.logger.Info("websocket-pool-starting", zap.Int("pool-size", p.cfg.Size))

	errChan := make(chan error, p.cfg.Size)
	var startWg sync.WaitGroup

	for i, mgr := range p.managers {
		startWg.Add(1)
		go func(index int, manager *Manager) {
			defer startWg.Done()

			err := manager.Start()
			if err != nil {
				p.logger.Error("manager-start-failed",
					zap.Int("manager-id", index),
					zap.Error(err))
				errChan <- fmt.Errorf("manager %d start failed: %w", index, err)
			}
		}(i, mgr)
	}

	startWg.Wait()
	close(errChan)

	var startErrors []error
	for err := range errChan {
		startErrors = append(startErrors, err)
	}

	if len(startErrors) > 0 {
		return fmt.Errorf("failed to start %d managers: %v", len(startErrors), startErrors)
	}

	p.wg.Add(1)
	go p.multiplexMessages()

	PoolActiveConnections.Set(float64(p.cfg.Size))

	p.logger.Info("websocket-pool-started", zap.Int("active-managers", p.cfg.Size))

	return nil
}

// Subscribe distributes ticker subscriptions across managers using
// hash-based sharding.
func (p *Pool) Subscribe(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}

	tickersByManager := make(map[int][]string)
	newCount := 0

	p.mu.Lock()
	for _, ticker := range tickers {
		if _, exists := p.tickerToIndex[ticker]; exists {
			continue
		}

		managerIndex := p.getManagerIndex(ticker)
		p.tickerToIndex[ticker] = managerIndex
		tickersByManager[managerIndex] = append(tickersByManager[managerIndex], ticker)
		newCount++
	}
	p.mu.Unlock()

	errChan := make(chan error, len(tickersByManager))
	var subWg sync.WaitGroup

	for managerIndex, group := range tickersByManager {
		subWg.Add(1)
		go func(idx int, tks []string) {
			defer subWg.Done()

			err := p.managers[idx].Subscribe(ctx, tks)
			if err != nil {
				p.logger.Error("manager-subscribe-failed",
					zap.Int("manager-id", idx),
					zap.Int("ticker-count", len(tks)),
					zap.Error(err))
				errChan <- fmt.Errorf("manager %d subscribe failed: %w", idx, err)
			}
		}(managerIndex, group)
	}

	subWg.Wait()
	close(errChan)

	var subscribeErrors []error
	for err := range errChan {
		subscribeErrors = append(subscribeErrors, err)
	}

	if len(subscribeErrors) > 0 {
		return fmt.Errorf("failed to subscribe on %d managers: %v", len(subscribeErrors), subscribeErrors)
	}

	p.mu.Lock()
	p.totalSubscriptions += newCount
	totalSubs := p.totalSubscriptions
	p.mu.Unlock()

	SubscriptionCount.Set(float64(totalSubs))
	p.updateDistributionMetrics()

	p.logger.Info("pool-subscribed-to-tickers",
		zap.Int("new-tickers", newCount),
		zap.Int("total-subscriptions", totalSubs),
		zap.Int("managers-used", len(tickersByManager)))

	return nil
}

// Unsubscribe removes ticker subscriptions from their assigned managers.
func (p *Pool) Unsubscribe(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}

	tickersByManager := make(map[int][]string)
	removedCount := 0

	p.mu.Lock()
	for _, ticker := range tickers {
		if managerIndex, exists := p.tickerToIndex[ticker]; exists {
			tickersByManager[managerIndex] = append(tickersByManager[managerIndex], ticker)
			delete(p.tickerToIndex, ticker)
			removedCount++
		}
	}
	p.mu.Unlock()

	errChan := make(chan error, len(tickersByManager))
	var unsubWg sync.WaitGroup

	for managerIndex, group := range tickersByManager {
		unsubWg.Add(1)
		go func(idx int, tks []string) {
			defer unsubWg.Done()

			err := p.managers[idx].Unsubscribe(ctx, tks)
			if err != nil {
				p.logger.Error("manager-unsubscribe-failed",
					zap.Int("manager-id", idx),
					zap.Int("ticker-count", len(tks)),
					zap.Error(err))
				errChan <- fmt.Errorf("manager %d unsubscribe failed: %w", idx, err)
			}
		}(managerIndex, group)
	}

	unsubWg.Wait()
	close(errChan)

	var unsubscribeErrors []error
	for err := range errChan {
		unsubscribeErrors = append(unsubscribeErrors, err)
	}

	if len(unsubscribeErrors) > 0 {
		return fmt.Errorf("failed to unsubscribe on %d managers: %v", len(unsubscribeErrors), unsubscribeErrors)
	}

	p.mu.Lock()
	p.totalSubscriptions -= removedCount
	totalSubs := p.totalSubscriptions
	p.mu.Unlock()

	SubscriptionCount.Set(float64(totalSubs))

	p.logger.Info("pool-unsubscribed-from-tickers",
		zap.Int("removed-tickers", removedCount),
		zap.Int("total-subscriptions", totalSubs),
		zap.Int("managers-used", len(tickersByManager)))

	return nil
}

// MessageChan returns the multiplexed message channel receiving from all
// managers.
func (p *Pool) MessageChan() <-chan *types.QuoteMessage {
	return p.messageChan
}

// Close gracefully closes all WebSocket managers in the pool.
func (p *Pool) Close() error {
	p.logger.Info("closing-websocket-pool")

	p.cancel()

	var closeWg sync.WaitGroup
	for i, mgr := range p.managers {
		closeWg.Add(1)
		go func(index int, manager *Manager) {
			defer closeWg.Done()

			err := manager.Close()
			if err != nil {
				p.logger.Error("manager-close-failed",
					zap.Int("manager-id", index),
					zap.Error(err))
			}
		}(i, mgr)
	}

	closeWg.Wait()
	p.wg.Wait()

	close(p.messageChan)

	PoolActiveConnections.Set(0)

	p.logger.Info("websocket-pool-closed")

	return nil
}

// multiplexMessages receives messages from all managers and forwards them
// to the pool's message channel.
func (p *Pool) multiplexMessages() {
	defer p.wg.Done()

	cases := make([]reflect.SelectCase, len(p.managers)+1)

	cases[0] = reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(p.ctx.Done()),
	}

	for i, mgr := range p.managers {
		cases[i+1] = reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(mgr.MessageChan()),
		}
	}

	p.logger.Info("message-multiplexer-started", zap.Int("manager-count", len(p.managers)))

	for {
		chosen, value, ok := reflect.Select(cases)

		if chosen == 0 {
			p.logger.Info("message-multiplexer-stopped")
			return
		}

		if !ok {
			// Channel closed; park a never-ready channel in its slot.
			p.logger.Warn("manager-channel-closed", zap.Int("manager-id", chosen-1))
			cases[chosen].Chan = reflect.ValueOf(make(chan *types.QuoteMessage))
			continue
		}

		msg, ok := value.Interface().(*types.QuoteMessage)
		if !ok {
			p.logger.Error("invalid-message-type",
				zap.Int("manager-id", chosen-1),
				zap.String("type", fmt.Sprintf("%T", value.Interface())))
			continue
		}

		select {
		case p.messageChan <- msg:
		default:
			p.logger.Warn("dropped-message-from-multiplexer",
				zap.Int("manager-id", chosen-1),
				zap.String("ticker", msg.Ticker))
		}
	}
}

// getManagerIndex calculates the manager index for a ticker using CRC32.
func (p *Pool) getManagerIndex(ticker string) int {
	hash := crc32.ChecksumIEEE([]byte(ticker))
	return int(hash) % p.cfg.Size
}

// updateDistributionMetrics records how subscriptions spread across the
// pool's managers.
func (p *Pool) updateDistributionMetrics() {
	subscriptionsPerManager := make(map[int]int)

	p.mu.RLock()
	for _, managerIndex := range p.tickerToIndex {
		subscriptionsPerManager[managerIndex]++
	}
	p.mu.RUnlock()

	for _, count := range subscriptionsPerManager {
		PoolSubscriptionDistribution.Observe(float64(count))
	}
}
