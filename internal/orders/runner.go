package orders

import (
	"context"
	"time"

	"github.com/kevinzhu/tradekeeper/internal/gateway"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"go.uber.org/zap"
)

// runOrder is the per-order watcher goroutine. It consumes the ticker's
// price stream, evaluates the trail on every tick, and hands off to the
// submission path when the trigger fires. Cancellation always wins over a
// pending tick; once the order is triggered the native order is racing and
// a fill that lands first wins over cancellation.
func (e *Engine) runOrder(o *types.SyntheticOrder, cancelCh chan struct{}) {
	defer e.wg.Done()
	defer OrdersActive.Dec()

	// A recovered order that already submitted goes straight to fill
	// tracking. A venue rejection with attempts remaining re-arms the
	// order, which falls through into the watch loop below.
	if o.State == types.OrderTriggered && o.NativeOrderID != "" {
		if !e.trackNativeOrder(o, cancelCh) {
			return
		}
	}

	sub, err := e.feed.Subscribe(e.ctx, o.Ticker, 64)
	if err != nil {
		e.failOrder(o, "price feed subscribe: "+err.Error())
		return
	}
	defer sub.Close()

	var expiry <-chan time.Time
	if !o.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(o.ExpiresAt))
		defer timer.Stop()
		expiry = timer.C
	}

	for {
		// Cancellation takes priority over any buffered tick.
		select {
		case <-cancelCh:
			e.cancelWatching(o)
			return
		default:
		}

		select {
		case <-e.ctx.Done():
			return
		case <-cancelCh:
			e.cancelWatching(o)
			return
		case <-expiry:
			e.expireOrder(o)
			return
		case tick, ok := <-sub.Ticks():
			if !ok {
				return
			}
			// A stale feed must not fire triggers. Ticks still drain so
			// the subscription buffer cannot back up while degraded.
			if e.health != nil && !e.health.IsHealthy() {
				continue
			}

			action := e.step(o, tick)
			switch action {
			case ActionExpire:
				e.expireOrder(o)
				return
			case ActionSubmitMarket, ActionSubmitLimit:
				e.submitNativeOrder(o, action)
				if o.NativeOrderID == "" {
					return
				}
				if !e.trackNativeOrder(o, cancelCh) {
					return
				}
				// Re-armed after a venue rejection; keep watching for
				// the next trigger.
			}
		}
	}
}

// step evaluates one tick under the engine lock and moves the order to
// triggered before any gateway call, so a trigger decision is made at most
// once per order.
func (e *Engine) step(o *types.SyntheticOrder, tick types.PriceTick) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	prevBest := o.BestSeen
	action := evaluate(o, tick.Value, time.Now().UTC())
	o.UpdatedAt = time.Now().UTC()

	if !prevBest.Equal(o.BestSeen) {
		e.persistLocked(o)
	}

	if action == ActionSubmitMarket || action == ActionSubmitLimit {
		o.State = types.OrderTriggered
		e.persistLocked(o)
		OrdersTriggeredTotal.WithLabelValues(action.String()).Inc()
		e.logger.Info("synthetic-order-triggered",
			zap.String("order-id", o.ID),
			zap.String("ticker", o.Ticker),
			zap.String("action", action.String()),
			zap.String("price", tick.Value.String()),
			zap.String("best-seen", o.BestSeen.String()))
	}

	return action
}

// submitNativeOrder places the native order with bounded exponential
// backoff. Retries apply only to retryable gateway errors; anything else
// fails the order immediately. The attempts budget is cumulative across
// re-arms, so a persistently rejected order cannot cycle forever.
func (e *Engine) submitNativeOrder(o *types.SyntheticOrder, action Action) {
	spec := &gateway.NativeOrderSpec{
		Ticker:   o.Ticker,
		Side:     o.Side,
		Quantity: o.Quantity,
		Type:     gateway.OrderTypeMarket,
		Remark:   "tradekeeper:" + o.ID,
	}
	if action == ActionSubmitLimit {
		spec.Type = gateway.OrderTypeLimit
		spec.LimitPrice = o.LimitPrice
	}

	e.mu.Lock()
	attempt := o.SubmitAttempts
	e.mu.Unlock()

	delay := e.retryInitial
	for attempt < e.maxAttempts {
		attempt++
		e.mu.Lock()
		o.SubmitAttempts = attempt
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(e.ctx, 15*time.Second)
		nativeID, err := e.gateway.PlaceOrder(ctx, spec)
		cancel()

		if err == nil {
			e.mu.Lock()
			o.NativeOrderID = nativeID
			o.UpdatedAt = time.Now().UTC()
			e.persistLocked(o)
			e.mu.Unlock()

			SubmissionsTotal.WithLabelValues("success").Inc()
			e.logger.Info("native-order-submitted",
				zap.String("order-id", o.ID),
				zap.String("native-order-id", nativeID),
				zap.String("type", string(spec.Type)),
				zap.Int("attempt", attempt))
			return
		}

		e.logger.Warn("native-order-submit-error",
			zap.Error(err),
			zap.String("order-id", o.ID),
			zap.Int("attempt", attempt))

		if !types.IsRetryable(err) {
			SubmissionsTotal.WithLabelValues("failed").Inc()
			e.failOrder(o, "submit: "+err.Error())
			return
		}

		if attempt == e.maxAttempts {
			break
		}

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > e.retryMax {
			delay = e.retryMax
		}
	}

	SubmissionsTotal.WithLabelValues("exhausted").Inc()
	e.failOrder(o, "submit retries exhausted")
}

// trackNativeOrder polls the broker until the native order reaches a
// terminal status. A cancel request here is forwarded to the broker once;
// polling continues until the broker settles the race. Returns true when a
// venue rejection re-armed the order to active, so the caller resumes
// watching instead of finishing.
func (e *Engine) trackNativeOrder(o *types.SyntheticOrder, cancelCh chan struct{}) bool {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	cancelForwarded := false

	for {
		select {
		case <-e.ctx.Done():
			return false
		case <-cancelCh:
			cancelCh = nil
			if !cancelForwarded {
				cancelForwarded = true
				e.forwardCancel(o)
			}
		case <-ticker.C:
			report, err := e.queryStatus(o)
			if err != nil {
				e.logger.Warn("order-status-query-error",
					zap.Error(err),
					zap.String("order-id", o.ID),
					zap.String("native-order-id", o.NativeOrderID))
				continue
			}

			switch report.Status {
			case gateway.StatusFilled:
				e.fillOrder(o, report)
				return false
			case gateway.StatusCancelled:
				e.mu.Lock()
				o.State = types.OrderCancelled
				o.UpdatedAt = time.Now().UTC()
				e.persistLocked(o)
				e.mu.Unlock()
				OrdersFinishedTotal.WithLabelValues("cancelled").Inc()
				e.logger.Info("synthetic-order-cancelled",
					zap.String("order-id", o.ID),
					zap.String("native-order-id", o.NativeOrderID))
				return false
			case gateway.StatusRejected:
				// A rejection with attempts remaining re-arms the order
				// unless the user already asked for cancellation.
				if !cancelForwarded && o.SubmitAttempts < e.maxAttempts {
					e.rearmOrder(o, report.Reason)
					return true
				}
				e.failOrder(o, "native order rejected: "+report.Reason)
				return false
			}
		}
	}
}

func (e *Engine) queryStatus(o *types.SyntheticOrder) (*gateway.StatusReport, error) {
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()
	return e.gateway.GetOrderStatus(ctx, o.NativeOrderID)
}

func (e *Engine) forwardCancel(o *types.SyntheticOrder) {
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()

	if err := e.gateway.CancelOrder(ctx, o.NativeOrderID); err != nil {
		e.logger.Warn("native-order-cancel-error",
			zap.Error(err),
			zap.String("order-id", o.ID),
			zap.String("native-order-id", o.NativeOrderID))
	}
}

// fillOrder records the fill into the ledger and finishes the order.
func (e *Engine) fillOrder(o *types.SyntheticOrder, report *gateway.StatusReport) {
	trade := &types.Trade{
		ID:         o.NativeOrderID,
		Ticker:     o.Ticker,
		Side:       o.Side,
		Quantity:   report.FilledQty,
		Price:      report.AvgFillPrice,
		ExecutedAt: time.Now().UTC(),
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	if err := e.store.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("fill-trade-persist-error",
			zap.Error(err),
			zap.String("order-id", o.ID),
			zap.String("trade-id", trade.ID))
	}
	cancelFn()

	if err := e.ledger.RecordTrade(trade); err != nil {
		e.logger.Error("fill-ledger-record-error",
			zap.Error(err),
			zap.String("order-id", o.ID),
			zap.String("trade-id", trade.ID))
	}

	e.mu.Lock()
	o.State = types.OrderFilled
	o.FillPrice = report.AvgFillPrice
	o.UpdatedAt = time.Now().UTC()
	e.persistLocked(o)
	e.mu.Unlock()

	OrdersFinishedTotal.WithLabelValues("filled").Inc()
	e.logger.Info("synthetic-order-filled",
		zap.String("order-id", o.ID),
		zap.String("ticker", o.Ticker),
		zap.String("quantity", report.FilledQty.String()),
		zap.String("fill-price", report.AvgFillPrice.String()))

	e.notify("Order filled",
		o.Ticker+" "+string(o.Side)+" "+report.FilledQty.String()+" @ "+report.AvgFillPrice.String())
}

// cancelWatching finishes an order that was cancelled before triggering.
func (e *Engine) cancelWatching(o *types.SyntheticOrder) {
	e.mu.Lock()
	o.State = types.OrderCancelled
	o.UpdatedAt = time.Now().UTC()
	e.persistLocked(o)
	e.mu.Unlock()

	OrdersFinishedTotal.WithLabelValues("cancelled").Inc()
	e.logger.Info("synthetic-order-cancelled", zap.String("order-id", o.ID))
}

func (e *Engine) expireOrder(o *types.SyntheticOrder) {
	e.mu.Lock()
	o.State = types.OrderExpired
	o.UpdatedAt = time.Now().UTC()
	e.persistLocked(o)
	e.mu.Unlock()

	OrdersFinishedTotal.WithLabelValues("expired").Inc()
	e.logger.Info("synthetic-order-expired",
		zap.String("order-id", o.ID),
		zap.String("ticker", o.Ticker))
	e.notify("Order expired", o.Ticker+" "+string(o.Side)+" expired unfilled")
}

// rearmOrder returns a rejected order to active so the watcher can
// trigger and submit again. The native order ID is cleared; the spent
// submit attempts are kept so the retry budget stays bounded.
func (e *Engine) rearmOrder(o *types.SyntheticOrder, reason string) {
	e.mu.Lock()
	o.State = types.OrderActive
	o.NativeOrderID = ""
	o.UpdatedAt = time.Now().UTC()
	e.persistLocked(o)
	e.mu.Unlock()

	e.logger.Info("synthetic-order-rearmed",
		zap.String("order-id", o.ID),
		zap.String("ticker", o.Ticker),
		zap.Int("submit-attempts", o.SubmitAttempts),
		zap.String("reason", reason))
}

func (e *Engine) failOrder(o *types.SyntheticOrder, reason string) {
	e.mu.Lock()
	o.State = types.OrderError
	o.ErrorMessage = reason
	o.UpdatedAt = time.Now().UTC()
	e.persistLocked(o)
	e.mu.Unlock()

	OrdersFinishedTotal.WithLabelValues("error").Inc()
	e.logger.Error("synthetic-order-failed",
		zap.String("order-id", o.ID),
		zap.String("ticker", o.Ticker),
		zap.String("reason", reason))
	e.notify("Order failed", o.Ticker+" "+string(o.Side)+": "+reason)
}
