package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("gateway-mode", a.cfg.GatewayMode),
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents()
	if err != nil {
		return err
	}

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.String("ws-url", a.cfg.GatewayWSURL))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	// Start HTTP server
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)

	// Start quote transport before anything that subscribes
	err := a.startQuoteStream()
	if err != nil {
		return fmt.Errorf("start quote stream: %w", err)
	}

	err = a.feed.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start price feed: %w", err)
	}

	err = a.watchdog.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start feed watchdog: %w", err)
	}

	// Rebuild P&L state before accepting commands against it
	err = a.reconcileLedger(a.ctx)
	if err != nil {
		return fmt.Errorf("reconcile ledger: %w", err)
	}

	err = a.orderEngine.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start order engine: %w", err)
	}

	err = a.alertEvaluator.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start alert evaluator: %w", err)
	}

	err = a.startFXService()
	if err != nil {
		return fmt.Errorf("start fx service: %w", err)
	}

	err = a.startWatchTicker()
	if err != nil {
		return fmt.Errorf("start watch ticker: %w", err)
	}

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) startQuoteStream() error {
	if a.wsPool == nil {
		a.logger.Info("quote-stream-not-started",
			zap.String("mode", a.cfg.GatewayMode),
			zap.String("reason", "sim mode has no websocket transport"))
		return nil
	}

	return a.wsPool.Start()
}

func (a *App) startFXService() error {
	if a.fxService == nil {
		return nil
	}

	return a.fxService.Start(a.ctx)
}

// startWatchTicker holds a standing feed subscription on one ticker so its
// quotes keep flowing with no order or alert attached. Debugging aid.
func (a *App) startWatchTicker() error {
	if a.opts.WatchTicker == "" {
		return nil
	}

	sub, err := a.feed.Subscribe(a.ctx, a.opts.WatchTicker, 64)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", a.opts.WatchTicker, err)
	}

	a.logger.Info("watch-ticker-subscribed", zap.String("ticker", a.opts.WatchTicker))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer sub.Close()

		for {
			select {
			case <-a.ctx.Done():
				return
			case tick, ok := <-sub.Ticks():
				if !ok {
					return
				}
				a.logger.Debug("watch-tick",
					zap.String("ticker", tick.Metric),
					zap.String("price", tick.Value.String()))
			}
		}
	}()

	return nil
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
