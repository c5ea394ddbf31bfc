package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time interface check.
var _ Gateway = (*SimGateway)(nil)

// SimGateway is an in-memory broker gateway for local runs and tests. It
// fills market orders immediately at the last published price and fills
// limit orders at their limit price.
type SimGateway struct {
	mu         sync.Mutex
	trades     []*types.Trade
	orders     map[string]*StatusReport
	lastPrice  map[string]decimal.Decimal
	rejectAll  bool
	rejectNext int
	logger     *zap.Logger
}

// NewSimGateway creates a new simulated gateway.
func NewSimGateway(logger *zap.Logger) *SimGateway {
	return &SimGateway{
		orders:    make(map[string]*StatusReport),
		lastPrice: make(map[string]decimal.Decimal),
		logger:    logger,
	}
}

// SeedTrades pre-loads the simulated trade history.
func (s *SimGateway) SeedTrades(trades []*types.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
}

// SetLastPrice publishes a fill price for a ticker.
func (s *SimGateway) SetLastPrice(ticker string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice[ticker] = price
}

// SetRejectAll makes every subsequent placement fail, for exercising the
// retry path.
func (s *SimGateway) SetRejectAll(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = reject
}

// RejectNextPlacements makes the next n accepted placements report a
// rejected status instead of filling, for exercising venue-side
// rejections.
func (s *SimGateway) RejectNextPlacements(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = n
}

// GetTradeHistory returns the seeded trade history.
func (s *SimGateway) GetTradeHistory(_ context.Context, _ string) ([]*types.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.Trade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

// PlaceOrder fills the order immediately and records it.
func (s *SimGateway) PlaceOrder(_ context.Context, spec *NativeOrderSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectAll {
		return "", &types.GatewayError{
			Op:        "place_order",
			Code:      types.ErrMarketClosed,
			Message:   "simulated rejection",
			Retryable: true,
		}
	}

	if s.rejectNext > 0 {
		s.rejectNext--
		nativeID := "sim-" + uuid.New().String()
		s.orders[nativeID] = &StatusReport{
			NativeOrderID: nativeID,
			Status:        StatusRejected,
			Reason:        "simulated venue rejection",
		}
		s.logger.Info("sim-order-rejected",
			zap.String("native-order-id", nativeID),
			zap.String("ticker", spec.Ticker))
		return nativeID, nil
	}

	fillPrice := spec.LimitPrice
	if spec.Type == OrderTypeMarket {
		last, ok := s.lastPrice[spec.Ticker]
		if !ok {
			return "", &types.GatewayError{
				Op:      "place_order",
				Message: fmt.Sprintf("no price published for %s", spec.Ticker),
			}
		}
		fillPrice = last
	}

	nativeID := "sim-" + uuid.New().String()
	s.orders[nativeID] = &StatusReport{
		NativeOrderID: nativeID,
		Status:        StatusFilled,
		FilledQty:     spec.Quantity,
		AvgFillPrice:  fillPrice,
	}

	s.trades = append(s.trades, &types.Trade{
		ID:         nativeID,
		Ticker:     spec.Ticker,
		Side:       spec.Side,
		Quantity:   spec.Quantity,
		Price:      fillPrice,
		ExecutedAt: time.Now().UTC(),
	})

	s.logger.Info("sim-order-filled",
		zap.String("native-order-id", nativeID),
		zap.String("ticker", spec.Ticker),
		zap.String("side", string(spec.Side)),
		zap.String("fill-price", fillPrice.String()))

	return nativeID, nil
}

// CancelOrder marks a working order cancelled. Filled orders stay filled.
func (s *SimGateway) CancelOrder(_ context.Context, nativeOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.orders[nativeOrderID]
	if !ok {
		return &types.GatewayError{Op: "cancel_order", Code: types.ErrOrderNotFound, Message: "order not found"}
	}
	if report.Status == StatusWorking {
		report.Status = StatusCancelled
	}
	return nil
}

// GetOrderStatus returns the recorded status.
func (s *SimGateway) GetOrderStatus(_ context.Context, nativeOrderID string) (*StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.orders[nativeOrderID]
	if !ok {
		return nil, &types.GatewayError{Op: "order_status", Code: types.ErrOrderNotFound, Message: "order not found"}
	}

	cp := *report
	return &cp, nil
}

// SetOrderStatus overrides a native order's status, for recovery tests.
func (s *SimGateway) SetOrderStatus(nativeOrderID string, report *StatusReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[nativeOrderID] = report
}
