package app

import (
	"context"
	"sync"

	"github.com/kevinzhu/tradekeeper/internal/alerts"
	"github.com/kevinzhu/tradekeeper/internal/feedwatch"
	"github.com/kevinzhu/tradekeeper/internal/fx"
	"github.com/kevinzhu/tradekeeper/internal/gateway"
	"github.com/kevinzhu/tradekeeper/internal/ledger"
	"github.com/kevinzhu/tradekeeper/internal/notify"
	"github.com/kevinzhu/tradekeeper/internal/orders"
	"github.com/kevinzhu/tradekeeper/internal/pricefeed"
	"github.com/kevinzhu/tradekeeper/internal/storage"
	"github.com/kevinzhu/tradekeeper/pkg/config"
	"github.com/kevinzhu/tradekeeper/pkg/healthprobe"
	"github.com/kevinzhu/tradekeeper/pkg/httpserver"
	"github.com/kevinzhu/tradekeeper/pkg/websocket"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	healthChecker  *healthprobe.HealthChecker
	httpServer     *httpserver.Server
	store          storage.Store
	gateway        gateway.Gateway
	wsPool         *websocket.Pool // nil in sim mode
	feed           *pricefeed.Subscriber
	watchdog       *feedwatch.Watchdog
	ledgerEngine   *ledger.Engine
	orderEngine    *orders.Engine
	alertEvaluator *alerts.Evaluator
	fxService      *fx.Service // nil when FX polling is disabled
	notifier       *notify.Client
	opts           *Options
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// Options holds application options.
type Options struct {
	WatchTicker string // For debugging: hold a feed subscription on one ticker
}
