package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/kevinzhu/tradekeeper/internal/gateway"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"go.uber.org/zap"
)

// recoverOpenOrders reloads non-terminal orders from storage after a
// restart and resumes each where it left off. Pending orders activate,
// active orders resume watching, and triggered orders with a native order
// ID resume fill tracking. A triggered order without a native ID crashed
// mid-submission: the broker may or may not hold a working order, so it is
// parked in error rather than risking a duplicate submission.
func (e *Engine) recoverOpenOrders(ctx context.Context) error {
	open, err := e.store.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	recovered := 0
	for _, o := range open {
		e.mu.Lock()
		e.orders[o.ID] = o
		e.mu.Unlock()

		switch o.State {
		case types.OrderPending:
			e.mu.Lock()
			o.State = types.OrderActive
			o.UpdatedAt = time.Now().UTC()
			e.persistLocked(o)
			e.mu.Unlock()
			e.startRunner(o)
			recovered++

		case types.OrderActive:
			e.startRunner(o)
			recovered++

		case types.OrderTriggered:
			if o.NativeOrderID == "" {
				e.failOrder(o, "restart during submission, native order state unknown")
				continue
			}
			e.reconcileTriggered(ctx, o)
			e.startRunner(o)
			recovered++

		default:
			e.logger.Warn("unexpected-open-order-state",
				zap.String("order-id", o.ID),
				zap.String("state", string(o.State)))
		}
	}

	if recovered > 0 {
		e.logger.Info("open-orders-recovered", zap.Int("count", recovered))
	}

	return nil
}

// reconcileTriggered re-queries the broker for a triggered order before
// resuming it. A rejection with submission attempts left re-arms the order
// to active so the watcher can trigger and submit again; every other
// outcome (filled, cancelled, still working, query failure) is left for
// the resumed fill tracker to settle.
func (e *Engine) reconcileTriggered(ctx context.Context, o *types.SyntheticOrder) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	report, err := e.gateway.GetOrderStatus(queryCtx, o.NativeOrderID)
	cancel()
	if err != nil {
		e.logger.Warn("recovery-status-query-error",
			zap.Error(err),
			zap.String("order-id", o.ID),
			zap.String("native-order-id", o.NativeOrderID))
		return
	}

	if report.Status != gateway.StatusRejected || o.SubmitAttempts >= e.maxAttempts {
		return
	}

	e.rearmOrder(o, report.Reason)
}
