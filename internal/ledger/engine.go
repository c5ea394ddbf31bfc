package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/config"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine reconciles the trade ledger into realized and unrealized P&L per
// ticker. Realized P&L is attributed to the ticker's running total and
// retained even after the position is fully closed, which is the property
// the broker's raw equity view does not preserve.
//
// All mutation is serialized under one mutex; readers see a consistent
// snapshot, never a half-applied trade.
type Engine struct {
	mu     sync.RWMutex
	books  map[string]*book
	trades map[string][]*types.Trade // per ticker, kept in ledger order
	seen   map[string]bool           // trade IDs already applied
	marks  map[string]mark

	policy config.OversellPolicy
	logger *zap.Logger
}

type mark struct {
	price decimal.Decimal
	at    time.Time
}

// Config holds reconciliation engine configuration.
type Config struct {
	OversellPolicy config.OversellPolicy
	Logger         *zap.Logger
}

// New creates a new reconciliation engine.
func New(cfg *Config) *Engine {
	return &Engine{
		books:  make(map[string]*book),
		trades: make(map[string][]*types.Trade),
		seen:   make(map[string]bool),
		marks:  make(map[string]mark),
		policy: cfg.OversellPolicy,
		logger: cfg.Logger,
	}
}

// RecordTrade validates and applies a trade to the ledger. Application is
// atomic per trade ID and idempotent: re-submitting an already-seen trade ID
// is a no-op, not an error.
func (e *Engine) RecordTrade(trade *types.Trade) error {
	err := validateTrade(trade)
	if err != nil {
		TradesRejectedTotal.WithLabelValues("validation").Inc()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seen[trade.ID] {
		e.logger.Debug("trade-already-recorded", zap.String("trade-id", trade.ID))
		TradesDuplicateTotal.Inc()
		return nil
	}

	history := e.trades[trade.Ticker]
	inOrder := len(history) == 0 || history[len(history)-1].Before(trade)

	if inOrder {
		err = e.applyTrade(e.bookFor(trade.Ticker), trade)
		if err != nil {
			TradesRejectedTotal.WithLabelValues("integrity").Inc()
			return err
		}
		e.trades[trade.Ticker] = append(history, trade)
	} else {
		// Out-of-order arrival: replay the ticker's history with the new
		// trade merged in. The replay runs on a scratch book so a
		// rejection leaves the ledger untouched.
		merged, replayErr := e.replayWith(trade)
		if replayErr != nil {
			TradesRejectedTotal.WithLabelValues("integrity").Inc()
			return replayErr
		}
		e.trades[trade.Ticker] = merged
	}

	e.seen[trade.ID] = true
	TradesRecordedTotal.WithLabelValues(string(trade.Side)).Inc()

	e.logger.Debug("trade-recorded",
		zap.String("trade-id", trade.ID),
		zap.String("ticker", trade.Ticker),
		zap.String("side", string(trade.Side)),
		zap.String("quantity", trade.Quantity.String()),
		zap.String("price", trade.Price.String()))

	return nil
}

// bookFor returns the ticker's book, creating it on first use.
func (e *Engine) bookFor(ticker string) *book {
	b, ok := e.books[ticker]
	if !ok {
		b = newBook()
		e.books[ticker] = b
	}
	return b
}

// applyTrade applies one trade to a book. Buys cover outstanding short lots
// first, then open a new long lot. Sells consume long lots FIFO; a sell
// exceeding open quantity is rejected or opens a short lot depending on the
// configured policy. The oversell check runs before any mutation so a
// rejected trade leaves the book unchanged.
func (e *Engine) applyTrade(b *book, trade *types.Trade) error {
	if trade.Side == types.SideSell {
		open := b.longQuantity()
		if trade.Quantity.GreaterThan(open) && e.policy == config.OversellReject {
			shortfall := trade.Quantity.Sub(open)
			return &types.DataIntegrityError{
				Ticker:    trade.Ticker,
				Shortfall: shortfall,
				Message:   "sell exceeds tracked open quantity",
			}
		}
	}

	remaining := trade.Quantity

	switch trade.Side {
	case types.SideBuy:
		for remaining.IsPositive() && b.frontIsShort() {
			consumed, basis := b.consumeFront(remaining)
			// Covering a short realizes (short entry - buy price) * qty.
			b.realized = b.realized.Add(basis.Sub(trade.Price).Mul(consumed))
			remaining = remaining.Sub(consumed)
		}
		if remaining.IsPositive() {
			b.append(trade.Price, remaining, trade.ExecutedAt)
		}

	case types.SideSell:
		for remaining.IsPositive() && b.frontIsLong() {
			consumed, basis := b.consumeFront(remaining)
			b.realized = b.realized.Add(trade.Price.Sub(basis).Mul(consumed))
			remaining = remaining.Sub(consumed)
		}
		if remaining.IsPositive() {
			// OversellShort policy: leftover becomes a short lot.
			b.append(trade.Price, remaining.Neg(), trade.ExecutedAt)
		}
	}

	return nil
}

// replayWith rebuilds the ticker's book from its full ordered history plus
// the new trade and returns the merged history for the caller to store.
// Called only for out-of-order arrivals.
func (e *Engine) replayWith(trade *types.Trade) ([]*types.Trade, error) {
	merged := insertOrdered(e.trades[trade.Ticker], trade)

	scratch := newBook()
	for _, t := range merged {
		err := e.applyTrade(scratch, t)
		if err != nil {
			return nil, err
		}
	}

	e.books[trade.Ticker] = scratch
	e.logger.Debug("ledger-replayed",
		zap.String("ticker", trade.Ticker),
		zap.Int("trade-count", len(merged)))

	return merged, nil
}

// OnTick records the latest mark price for unrealized P&L valuation.
func (e *Engine) OnTick(tick types.PriceTick) {
	e.mu.Lock()
	e.marks[tick.Metric] = mark{price: tick.Value, at: tick.At}
	e.mu.Unlock()
}

// Recompute returns the position summary for one ticker. Unrealized P&L is
// zero when no mark has arrived yet; the call never blocks on price data.
func (e *Engine) Recompute(ticker string) (*types.PositionSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b, ok := e.books[ticker]
	if !ok {
		return nil, &types.ValidationError{Field: "ticker", Message: "no trades recorded for " + ticker}
	}

	summary := e.summarize(ticker, b)
	return &summary, nil
}

// RecomputeAll returns position summaries for all tickers ever traded,
// including tickers whose position has been fully closed.
func (e *Engine) RecomputeAll() map[string]*types.PositionSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]*types.PositionSummary, len(e.books))
	for ticker, b := range e.books {
		summary := e.summarize(ticker, b)
		out[ticker] = &summary
	}
	return out
}

// summarize builds a PositionSummary from a book. Caller holds at least the
// read lock.
func (e *Engine) summarize(ticker string, b *book) types.PositionSummary {
	open := b.openQuantity()

	summary := types.PositionSummary{
		Ticker:        ticker,
		RealizedPnL:   b.realized,
		UnrealizedPnL: decimal.Zero,
		OpenQuantity:  open,
		AvgOpenCost:   decimal.Zero,
	}

	if !open.IsZero() {
		summary.AvgOpenCost = b.openCost().Div(open)
	}

	m, marked := e.marks[ticker]
	if marked {
		summary.MarkPrice = m.price
		summary.MarkedAt = m.at
		if !open.IsZero() {
			// (mark - basis) * remaining, signed, so short lots value
			// correctly without a special case.
			summary.UnrealizedPnL = m.price.Mul(open).Sub(b.openCost())
		}
	}

	return summary
}

func validateTrade(trade *types.Trade) error {
	if trade.ID == "" {
		return &types.ValidationError{Field: "trade", Message: "trade ID is required"}
	}
	if trade.Ticker == "" {
		return &types.ValidationError{Field: "trade", Message: "ticker is required"}
	}
	if trade.Side != types.SideBuy && trade.Side != types.SideSell {
		return &types.ValidationError{Field: "trade", Message: "side must be BUY or SELL"}
	}
	if !trade.Quantity.IsPositive() {
		return &types.ValidationError{Field: "trade", Message: "quantity must be positive"}
	}
	if !trade.Price.IsPositive() {
		return &types.ValidationError{Field: "trade", Message: "price must be positive"}
	}
	return nil
}

// insertOrdered returns a new slice with trade inserted in ledger order.
// The input history is never mutated; the stored history must not share a
// backing array with the merge result.
func insertOrdered(history []*types.Trade, trade *types.Trade) []*types.Trade {
	i := sort.Search(len(history), func(i int) bool {
		return trade.Before(history[i])
	})
	merged := make([]*types.Trade, 0, len(history)+1)
	merged = append(merged, history[:i]...)
	merged = append(merged, trade)
	merged = append(merged, history[i:]...)
	return merged
}
