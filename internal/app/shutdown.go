package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop taking commands first
	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Order watchers persist state as they stop; storage must still be up
	err = a.orderEngine.Close()
	if err != nil {
		a.logger.Error("order-engine-close-error", zap.Error(err))
	}

	err = a.alertEvaluator.Close()
	if err != nil {
		a.logger.Error("alert-evaluator-close-error", zap.Error(err))
	}

	err = a.shutdownFXService()
	if err != nil {
		a.logger.Error("fx-service-close-error", zap.Error(err))
	}

	err = a.watchdog.Close()
	if err != nil {
		a.logger.Error("feed-watchdog-close-error", zap.Error(err))
	}

	err = a.feed.Close()
	if err != nil {
		a.logger.Error("price-feed-close-error", zap.Error(err))
	}

	err = a.shutdownQuoteStream()
	if err != nil {
		a.logger.Error("quote-stream-close-error", zap.Error(err))
	}

	err = a.store.Close()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}

	// Wait for all goroutines
	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return nil
}

func (a *App) shutdownFXService() error {
	if a.fxService == nil {
		return nil
	}
	return a.fxService.Close()
}

func (a *App) shutdownQuoteStream() error {
	if a.wsPool == nil {
		return nil
	}
	return a.wsPool.Close()
}
