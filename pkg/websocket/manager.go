package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"go.uber.org/zap"
)

// Manager manages a single WebSocket connection to the broker gateway's
// quote stream.
type Manager struct {
	url             string
	conn            *websocket.Conn
	logger          *zap.Logger
	reconnectMgr    *ReconnectManager
	config          Config
	messageChan     chan *types.QuoteMessage
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	subscribed      map[string]bool // tracks subscribed tickers
	connected       atomic.Bool
	lastPongTime    atomic.Int64
	connectionStart atomic.Int64 // Unix timestamp of connection start
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// controlMessage is the client-to-gateway subscription control frame.
type controlMessage struct {
	Op      string   `json:"op"`
	Tickers []string `json:"tickers"`
}

// New creates a new WebSocket manager.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	reconnectCfg := ReconnectConfig{
		InitialDelay:      cfg.ReconnectInitialDelay,
		MaxDelay:          cfg.ReconnectMaxDelay,
		BackoffMultiplier: cfg.ReconnectBackoffMult,
		JitterPercent:     0.2,
	}

	return &Manager{
		url:          cfg.URL,
		logger:       cfg.Logger,
		reconnectMgr: NewReconnectManager(reconnectCfg, cfg.Logger),
		config:       cfg,
		messageChan:  make(chan *types.QuoteMessage, cfg.MessageBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		subscribed:   make(map[string]bool),
	}
}

// Start starts the WebSocket manager.
func (m *Manager) Start() error {
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

// connect establishes a WebSocket connection.
func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	m.logger.Info("connecting-to-quote-stream", zap.String("url", m.url))

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		m.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	now := time.Now()
	m.connected.Store(true)
	m.lastPongTime.Store(now.Unix())
	m.connectionStart.Store(now.Unix())
	ActiveConnections.Set(1)

	m.logger.Info("quote-stream-connected")

	return nil
}

// Subscribe subscribes to quote updates for a list of tickers.
func (m *Manager) Subscribe(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}

	m.mu.Lock()

	newTickers := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		if !m.subscribed[ticker] {
			newTickers = append(newTickers, ticker)
			m.subscribed[ticker] = true
		}
	}

	if len(newTickers) == 0 {
		m.mu.Unlock()
		m.logger.Debug("all-tickers-already-subscribed")
		return nil
	}

	totalSubscribed := len(m.subscribed)
	m.mu.Unlock()

	// Network I/O without holding the lock.
	err := m.conn.WriteJSON(&controlMessage{Op: "subscribe", Tickers: newTickers})
	if err != nil {
		// Rollback subscription state on failure
		m.mu.Lock()
		for _, ticker := range newTickers {
			delete(m.subscribed, ticker)
		}
		totalSubscribed = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(totalSubscribed))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(totalSubscribed))

	m.logger.Info("subscribed-to-tickers",
		zap.Int("new-count", len(newTickers)),
		zap.Int("total-count", totalSubscribed))

	return nil
}

// Unsubscribe unsubscribes from quote updates for a list of tickers.
func (m *Manager) Unsubscribe(ctx context.Context, tickers []string) (err error) {
	if len(tickers) == 0 {
		return nil
	}

	m.mu.Lock()

	toRemove := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		if m.subscribed[ticker] {
			toRemove = append(toRemove, ticker)
			delete(m.subscribed, ticker)
		}
	}

	if len(toRemove) == 0 {
		m.mu.Unlock()
		m.logger.Debug("no-tickers-to-unsubscribe")
		return nil
	}

	totalSubscribed := len(m.subscribed)
	m.mu.Unlock()

	err = m.conn.WriteJSON(&controlMessage{Op: "unsubscribe", Tickers: toRemove})
	if err != nil {
		// Rollback: re-add tickers to subscribed map
		m.mu.Lock()
		for _, ticker := range toRemove {
			m.subscribed[ticker] = true
		}
		totalSubscribed = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(totalSubscribed))
		return fmt.Errorf("write unsubscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(totalSubscribed))
	UnsubscriptionsTotal.Inc()

	m.logger.Info("unsubscribed-from-tickers",
		zap.Int("count", len(toRemove)),
		zap.Int("remaining-count", totalSubscribed))

	return nil
}

// readLoop reads messages from the WebSocket.
func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("read-error", zap.Error(err))

			startTime := m.connectionStart.Load()
			if startTime > 0 {
				duration := time.Since(time.Unix(startTime, 0)).Seconds()
				ConnectionDuration.Observe(duration)
			}

			m.connected.Store(false)
			ActiveConnections.Set(0)
			return
		}

		// The gateway batches quote updates into arrays.
		var quotes []types.QuoteMessage
		err = json.Unmarshal(message, &quotes)
		if err != nil {
			messageStr := string(message)

			// Heartbeat or keepalive frame
			if messageStr == "[]" || messageStr == "" || len(message) < 10 {
				m.logger.Debug("quote-stream-heartbeat", zap.Int("bytes", len(message)))
				continue
			}

			// Subscription ack or other control frame
			var ack map[string]interface{}
			if json.Unmarshal(message, &ack) == nil {
				if op, ok := ack["op"].(string); ok {
					m.logger.Debug("quote-stream-control-message",
						zap.String("op", op),
						zap.Int("bytes", len(message)))
					continue
				}
			}

			previewLen := len(messageStr)
			if previewLen > 100 {
				previewLen = 100
			}
			m.logger.Debug("quote-stream-unparseable-message",
				zap.Error(err),
				zap.Int("bytes", len(message)),
				zap.String("preview", messageStr[:previewLen]))
			continue
		}

		for i := range quotes {
			start := time.Now()
			quote := &quotes[i]

			MessagesReceivedTotal.WithLabelValues(quote.EventType).Inc()

			// Send to channel (non-blocking)
			select {
			case m.messageChan <- quote:
			default:
				m.logger.Warn("message-channel-full", zap.String("ticker", quote.Ticker))
				MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
			}

			MessageLatencySeconds.Observe(time.Since(start).Seconds())
		}
	}
}

// pingLoop sends periodic PING messages.
func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop handles reconnection when the connection drops.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.connected.Load() {
			time.Sleep(time.Second)
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		err := m.reconnectMgr.Reconnect(m.ctx, m.connect)
		if err != nil {
			if err == context.Canceled {
				return
			}
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		// Restore the subscription set on the fresh connection.
		err = m.resubscribeAll(m.ctx)
		if err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.connected.Store(false)
			continue
		}

		m.logger.Info("reconnection-complete-restarting-read-loop")

		m.wg.Add(1)
		go m.readLoop()
	}
}

// resubscribeAll resubscribes to all previously subscribed tickers.
func (m *Manager) resubscribeAll(ctx context.Context) error {
	m.mu.RLock()
	tickers := make([]string, 0, len(m.subscribed))
	for ticker := range m.subscribed {
		tickers = append(tickers, ticker)
	}
	m.mu.RUnlock()

	if len(tickers) == 0 {
		return nil
	}

	m.mu.RLock()
	err := m.conn.WriteJSON(&controlMessage{Op: "subscribe", Tickers: tickers})
	m.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-tickers", zap.Int("count", len(tickers)))

	return nil
}

// MessageChan returns the channel for receiving quote messages.
func (m *Manager) MessageChan() <-chan *types.QuoteMessage {
	return m.messageChan
}

// IsConnected reports whether the connection is currently up.
func (m *Manager) IsConnected() bool {
	return m.connected.Load()
}

// Close gracefully closes the WebSocket manager.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	m.cancel()

	m.mu.RLock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()

	close(m.messageChan)

	ActiveConnections.Set(0)

	m.logger.Info("websocket-manager-closed")

	return nil
}
