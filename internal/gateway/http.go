package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HTTPGateway talks to the broker connectivity process over its local HTTP
// API. The process itself (holding the real broker session) is an external
// collaborator; this client only shuttles requests to it.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPConfig holds HTTP gateway configuration.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewHTTPGateway creates a gateway client for the broker process.
func NewHTTPGateway(cfg *HTTPConfig) *HTTPGateway {
	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: cfg.Logger,
	}
}

type tradeRecord struct {
	TradeID    string `json:"trade_id"`
	Ticker     string `json:"ticker"`
	Side       string `json:"side"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
	ExecutedAt int64  `json:"executed_at"`
}

// GetTradeHistory returns the account's executed trades in ledger order.
func (g *HTTPGateway) GetTradeHistory(ctx context.Context, account string) ([]*types.Trade, error) {
	var records []tradeRecord
	err := g.getJSON(ctx, fmt.Sprintf("/accounts/%s/trades", account), &records)
	if err != nil {
		return nil, err
	}

	trades := make([]*types.Trade, 0, len(records))
	for _, r := range records {
		qty, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s quantity: %w", r.TradeID, err)
		}
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s price: %w", r.TradeID, err)
		}

		trades = append(trades, &types.Trade{
			ID:         r.TradeID,
			Ticker:     r.Ticker,
			Side:       types.Side(r.Side),
			Quantity:   qty,
			Price:      price,
			ExecutedAt: time.Unix(r.ExecutedAt, 0).UTC(),
		})
	}

	g.logger.Debug("trade-history-fetched",
		zap.String("account", account),
		zap.Int("count", len(trades)))

	return trades, nil
}

type placeOrderRequest struct {
	Ticker     string `json:"ticker"`
	Side       string `json:"side"`
	Quantity   string `json:"quantity"`
	Type       string `json:"type"`
	LimitPrice string `json:"limit_price,omitempty"`
	Remark     string `json:"remark,omitempty"`
}

type placeOrderResponse struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PlaceOrder submits a native order and returns its broker-assigned ID.
func (g *HTTPGateway) PlaceOrder(ctx context.Context, spec *NativeOrderSpec) (string, error) {
	reqBody := placeOrderRequest{
		Ticker:   spec.Ticker,
		Side:     string(spec.Side),
		Quantity: spec.Quantity.String(),
		Type:     string(spec.Type),
		Remark:   spec.Remark,
	}
	if spec.Type == OrderTypeLimit {
		reqBody.LimitPrice = spec.LimitPrice.String()
	}

	var resp placeOrderResponse
	status, err := g.postJSON(ctx, "/orders", reqBody, &resp)
	if err != nil {
		return "", &types.GatewayError{Op: "place_order", Message: err.Error(), Retryable: true}
	}

	if status != http.StatusOK && status != http.StatusCreated {
		return "", &types.GatewayError{
			Op:        "place_order",
			Code:      resp.Code,
			Message:   resp.Message,
			Retryable: retryableCode(resp.Code),
		}
	}

	g.logger.Info("native-order-placed",
		zap.String("native-order-id", resp.OrderID),
		zap.String("ticker", spec.Ticker),
		zap.String("side", string(spec.Side)),
		zap.String("type", string(spec.Type)))

	return resp.OrderID, nil
}

// CancelOrder requests cancellation of a working native order.
func (g *HTTPGateway) CancelOrder(ctx context.Context, nativeOrderID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		g.baseURL+"/orders/"+nativeOrderID, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &types.GatewayError{Op: "cancel_order", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &types.GatewayError{Op: "cancel_order", Code: types.ErrOrderNotFound, Message: "order not found"}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &types.GatewayError{
			Op:      "cancel_order",
			Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)),
		}
	}

	g.logger.Info("native-order-cancel-requested", zap.String("native-order-id", nativeOrderID))
	return nil
}

type statusResponse struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	FilledQty    string `json:"filled_qty"`
	AvgFillPrice string `json:"avg_fill_price"`
	Reason       string `json:"reason"`
}

// GetOrderStatus queries the live status of a native order.
func (g *HTTPGateway) GetOrderStatus(ctx context.Context, nativeOrderID string) (*StatusReport, error) {
	var resp statusResponse
	err := g.getJSON(ctx, "/orders/"+nativeOrderID, &resp)
	if err != nil {
		return nil, &types.GatewayError{Op: "order_status", Message: err.Error(), Retryable: true}
	}

	report := &StatusReport{
		NativeOrderID: resp.OrderID,
		Status:        Status(resp.Status),
		Reason:        resp.Reason,
	}

	if resp.FilledQty != "" {
		report.FilledQty, err = decimal.NewFromString(resp.FilledQty)
		if err != nil {
			return nil, fmt.Errorf("parse filled qty: %w", err)
		}
	}
	if resp.AvgFillPrice != "" {
		report.AvgFillPrice, err = decimal.NewFromString(resp.AvgFillPrice)
		if err != nil {
			return nil, fmt.Errorf("parse avg fill price: %w", err)
		}
	}

	return report, nil
}

func (g *HTTPGateway) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (g *HTTPGateway) postJSON(ctx context.Context, path string, in, out interface{}) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	// Decode even on error status: the body carries the rejection code.
	_ = json.NewDecoder(resp.Body).Decode(out)

	return resp.StatusCode, nil
}

// retryableCode reports whether a gateway rejection code is worth retrying.
func retryableCode(code string) bool {
	switch code {
	case types.ErrRateLimited, types.ErrMarketClosed:
		return true
	}
	return false
}
