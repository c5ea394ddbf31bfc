package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/kevinzhu/tradekeeper/internal/alerts"
	"github.com/kevinzhu/tradekeeper/internal/feedwatch"
	"github.com/kevinzhu/tradekeeper/internal/fx"
	"github.com/kevinzhu/tradekeeper/internal/gateway"
	"github.com/kevinzhu/tradekeeper/internal/ledger"
	"github.com/kevinzhu/tradekeeper/internal/notify"
	"github.com/kevinzhu/tradekeeper/internal/orders"
	"github.com/kevinzhu/tradekeeper/internal/pricefeed"
	"github.com/kevinzhu/tradekeeper/internal/storage"
	"github.com/kevinzhu/tradekeeper/pkg/cache"
	"github.com/kevinzhu/tradekeeper/pkg/config"
	"github.com/kevinzhu/tradekeeper/pkg/healthprobe"
	"github.com/kevinzhu/tradekeeper/pkg/httpserver"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/kevinzhu/tradekeeper/pkg/websocket"
	"go.uber.org/zap"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := setupHealthChecker()
	notifier := setupNotifier(cfg, logger)

	store, err := setupStorage(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	gw, wsPool := setupGateway(cfg, logger)

	ledgerEngine := setupLedger(cfg, logger)

	watchdog, err := setupWatchdog(cfg, logger, notifier)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup watchdog: %w", err)
	}

	feed := setupPriceFeed(logger, wsPool, ledgerEngine, watchdog)

	orderEngine := setupOrderEngine(cfg, logger, gw, store, feed, ledgerEngine, notifier, watchdog)
	alertEvaluator := setupAlertEvaluator(cfg, logger, feed, store, notifier)

	fxService, err := setupFXService(cfg, logger, feed)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup fx service: %w", err)
	}

	httpServer := setupHTTPServer(cfg, logger, healthChecker, orderEngine, alertEvaluator, ledgerEngine, watchdog)

	return &App{
		cfg:            cfg,
		logger:         logger,
		healthChecker:  healthChecker,
		httpServer:     httpServer,
		store:          store,
		gateway:        gw,
		wsPool:         wsPool,
		feed:           feed,
		watchdog:       watchdog,
		ledgerEngine:   ledgerEngine,
		orderEngine:    orderEngine,
		alertEvaluator: alertEvaluator,
		fxService:      fxService,
		notifier:       notifier,
		opts:           opts,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupNotifier(cfg *config.Config, logger *zap.Logger) *notify.Client {
	return notify.New(&notify.Config{
		BaseURL: cfg.NtfyBaseURL,
		Topic:   cfg.NtfyTopic,
		Logger:  logger,
	})
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.StorageMode == "postgres" {
		pgStore, err := storage.NewPostgresStore(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres store: %w", err)
		}
		return pgStore, nil
	}

	return storage.NewMemoryStore(logger), nil
}

// setupGateway builds the broker gateway and, in http mode, the websocket
// pool carrying its quote stream. Sim mode has no quote transport; ticks
// come from the simulated gateway's own fills.
func setupGateway(cfg *config.Config, logger *zap.Logger) (gateway.Gateway, *websocket.Pool) {
	if cfg.GatewayMode == "sim" {
		return gateway.NewSimGateway(logger), nil
	}

	gw := gateway.NewHTTPGateway(&gateway.HTTPConfig{
		BaseURL: cfg.GatewayBaseURL,
		Timeout: cfg.GatewayTimeout,
		Logger:  logger,
	})

	wsPool := websocket.NewPool(websocket.PoolConfig{
		Size:                  cfg.WSPoolSize,
		WSUrl:                 cfg.GatewayWSURL,
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		MessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                logger,
	})

	return gw, wsPool
}

func setupLedger(cfg *config.Config, logger *zap.Logger) *ledger.Engine {
	return ledger.New(&ledger.Config{
		OversellPolicy: cfg.PnLOversellPolicy,
		Logger:         logger,
	})
}

func setupWatchdog(cfg *config.Config, logger *zap.Logger, notifier *notify.Client) (*feedwatch.Watchdog, error) {
	return feedwatch.New(&feedwatch.Config{
		StaleAfter:   cfg.FeedStaleAfter,
		ResumeWithin: cfg.FeedResumeWithin,
		Notifier:     notifier,
		Logger:       logger,
	})
}

// setupPriceFeed wires the quote stream into the subscriber. Every
// published tick also feeds the ledger's mark prices and the staleness
// watchdog.
func setupPriceFeed(
	logger *zap.Logger,
	wsPool *websocket.Pool,
	ledgerEngine *ledger.Engine,
	watchdog *feedwatch.Watchdog,
) *pricefeed.Subscriber {
	var stream pricefeed.QuoteStream = pricefeed.NopStream{}
	var msgChan <-chan *types.QuoteMessage
	if wsPool != nil {
		stream = wsPool
		msgChan = wsPool.MessageChan()
	}

	return pricefeed.New(&pricefeed.Config{
		Stream:         stream,
		MessageChannel: msgChan,
		Observers: []func(types.PriceTick){
			ledgerEngine.OnTick,
			func(tick types.PriceTick) { watchdog.Observe(tick.At) },
		},
		Logger: logger,
	})
}

func setupOrderEngine(
	cfg *config.Config,
	logger *zap.Logger,
	gw gateway.Gateway,
	store storage.Store,
	feed *pricefeed.Subscriber,
	ledgerEngine *ledger.Engine,
	notifier *notify.Client,
	watchdog *feedwatch.Watchdog,
) *orders.Engine {
	return orders.New(&orders.Config{
		Gateway:           gw,
		Store:             store,
		Feed:              feed,
		Ledger:            ledgerEngine,
		Notifier:          notifier,
		FeedHealth:        watchdog,
		Logger:            logger,
		MaxSubmitAttempts: cfg.OrderMaxSubmitAttempts,
		RetryInitialDelay: cfg.OrderRetryInitialDelay,
		RetryMaxDelay:     cfg.OrderRetryMaxDelay,
		PollInterval:      cfg.OrderPollInterval,
	})
}

func setupAlertEvaluator(
	cfg *config.Config,
	logger *zap.Logger,
	feed *pricefeed.Subscriber,
	store storage.Store,
	notifier *notify.Client,
) *alerts.Evaluator {
	return alerts.New(&alerts.Config{
		Feed:            feed,
		Store:           store,
		Notifier:        notifier,
		Logger:          logger,
		DefaultCooldown: cfg.AlertDefaultCooldown,
	})
}

func setupFXService(cfg *config.Config, logger *zap.Logger, feed *pricefeed.Subscriber) (*fx.Service, error) {
	if !cfg.FXEnabled {
		logger.Info("fx-polling-disabled")
		return nil, nil
	}

	rateCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create rate cache: %w", err)
	}

	return fx.New(&fx.Config{
		BaseURL:      cfg.FXBaseURL,
		Pairs:        splitPairs(cfg.FXPairs),
		PollInterval: cfg.FXPollInterval,
		Feed:         feed,
		Cache:        rateCache,
		Logger:       logger,
	})
}

func splitPairs(s string) []string {
	var pairs []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

func setupHTTPServer(
	cfg *config.Config,
	logger *zap.Logger,
	healthChecker *healthprobe.HealthChecker,
	orderEngine *orders.Engine,
	alertEvaluator *alerts.Evaluator,
	ledgerEngine *ledger.Engine,
	watchdog *feedwatch.Watchdog,
) *httpserver.Server {
	return httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Orders:        orderEngine,
		Alerts:        alertEvaluator,
		Ledger:        ledgerEngine,
		FeedWatch:     watchdog,
	})
}

// reconcileLedger replays stored trades, then pulls the gateway's trade
// history and applies anything the store has not seen yet. Trade IDs make
// the replay idempotent, so overlap between the two sources is harmless.
func (a *App) reconcileLedger(ctx context.Context) error {
	stored, err := a.store.ListTrades(ctx)
	if err != nil {
		return fmt.Errorf("list stored trades: %w", err)
	}

	for _, trade := range stored {
		if err := a.ledgerEngine.RecordTrade(trade); err != nil {
			a.logger.Warn("stored-trade-rejected",
				zap.String("trade-id", trade.ID),
				zap.Error(err))
		}
	}

	remote, err := a.gateway.GetTradeHistory(ctx, a.cfg.GatewayAccount)
	if err != nil {
		return fmt.Errorf("fetch gateway trade history: %w", err)
	}

	var applied int
	for _, trade := range remote {
		if err := a.ledgerEngine.RecordTrade(trade); err != nil {
			a.logger.Warn("gateway-trade-rejected",
				zap.String("trade-id", trade.ID),
				zap.Error(err))
			continue
		}
		if err := a.store.SaveTrade(ctx, trade); err != nil {
			a.logger.Error("trade-persist-failed",
				zap.String("trade-id", trade.ID),
				zap.Error(err))
		}
		applied++
	}

	a.logger.Info("ledger-reconciled",
		zap.Int("stored-trades", len(stored)),
		zap.Int("gateway-trades", len(remote)),
		zap.Int("applied-from-gateway", applied))

	return nil
}
