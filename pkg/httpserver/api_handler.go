package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kevinzhu/tradekeeper/internal/alerts"
	"github.com/kevinzhu/tradekeeper/internal/feedwatch"
	"github.com/kevinzhu/tradekeeper/internal/ledger"
	"github.com/kevinzhu/tradekeeper/internal/orders"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// apiHandler serves the command API.
type apiHandler struct {
	orders    *orders.Engine
	alerts    *alerts.Evaluator
	ledger    *ledger.Engine
	feedwatch *feedwatch.Watchdog
	logger    *zap.Logger
}

func newAPIHandler(cfg *Config) *apiHandler {
	return &apiHandler{
		orders:    cfg.Orders,
		alerts:    cfg.Alerts,
		ledger:    cfg.Ledger,
		feedwatch: cfg.FeedWatch,
		logger:    cfg.Logger,
	}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// placeOrderRequest is the POST /api/orders body. Money fields are strings
// to keep exact decimal values on the wire.
type placeOrderRequest struct {
	Ticker       string `json:"ticker"`
	Side         string `json:"side"`
	Quantity     string `json:"quantity"`
	TrailAmount  string `json:"trail_amount,omitempty"`
	TrailPercent string `json:"trail_percent,omitempty"`
	LimitPrice   string `json:"limit_price"`
	ExpiresAt    string `json:"expires_at,omitempty"` // RFC 3339
}

// orderResponse is the JSON view of a synthetic order.
type orderResponse struct {
	ID             string `json:"id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Quantity       string `json:"quantity"`
	TrailAmount    string `json:"trail_amount,omitempty"`
	TrailPercent   string `json:"trail_percent,omitempty"`
	LimitPrice     string `json:"limit_price"`
	State          string `json:"state"`
	NativeOrderID  string `json:"native_order_id,omitempty"`
	BestSeen       string `json:"best_seen,omitempty"`
	LastPrice      string `json:"last_price,omitempty"`
	FillPrice      string `json:"fill_price,omitempty"`
	SubmitAttempts int    `json:"submit_attempts,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

func toOrderResponse(o *types.SyntheticOrder) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		Ticker:         o.Ticker,
		Side:           string(o.Side),
		Quantity:       o.Quantity.String(),
		LimitPrice:     o.LimitPrice.String(),
		State:          string(o.State),
		NativeOrderID:  o.NativeOrderID,
		SubmitAttempts: o.SubmitAttempts,
		ErrorMessage:   o.ErrorMessage,
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      o.UpdatedAt.Format(time.RFC3339),
	}
	if o.TrailAmount.IsPositive() {
		resp.TrailAmount = o.TrailAmount.String()
	}
	if o.TrailPercent.IsPositive() {
		resp.TrailPercent = o.TrailPercent.String()
	}
	if !o.BestSeen.IsZero() {
		resp.BestSeen = o.BestSeen.String()
	}
	if !o.LastPrice.IsZero() {
		resp.LastPrice = o.LastPrice.String()
	}
	if !o.FillPrice.IsZero() {
		resp.FillPrice = o.FillPrice.String()
	}
	if !o.ExpiresAt.IsZero() {
		resp.ExpiresAt = o.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

// alertRequest is the POST /api/alerts body.
type alertRequest struct {
	Metric          string `json:"metric"`
	Operator        string `json:"operator"`
	Threshold       string `json:"threshold"`
	Message         string `json:"message,omitempty"`
	CooldownSeconds int    `json:"cooldown_seconds,omitempty"`
}

// alertResponse is the JSON view of an alert rule.
type alertResponse struct {
	ID              string `json:"id"`
	Metric          string `json:"metric"`
	Operator        string `json:"operator"`
	Threshold       string `json:"threshold"`
	Message         string `json:"message,omitempty"`
	CooldownSeconds int    `json:"cooldown_seconds"`
	LastFiredAt     string `json:"last_fired_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toAlertResponse(r *types.AlertRule) alertResponse {
	resp := alertResponse{
		ID:              r.ID,
		Metric:          r.Metric,
		Operator:        string(r.Operator),
		Threshold:       r.Threshold.String(),
		Message:         r.Message,
		CooldownSeconds: int(r.Cooldown.Seconds()),
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
	}
	if !r.LastFiredAt.IsZero() {
		resp.LastFiredAt = r.LastFiredAt.Format(time.RFC3339)
	}
	return resp
}

// pnlResponse is the JSON view of one ticker's position summary.
type pnlResponse struct {
	Ticker        string `json:"ticker"`
	RealizedPnL   string `json:"realized_pnl"`
	UnrealizedPnL string `json:"unrealized_pnl"`
	OpenQuantity  string `json:"open_quantity"`
	AvgOpenCost   string `json:"avg_open_cost"`
	MarkPrice     string `json:"mark_price,omitempty"`
	MarkedAt      string `json:"marked_at,omitempty"`
}

func toPnLResponse(s *types.PositionSummary) pnlResponse {
	resp := pnlResponse{
		Ticker:        s.Ticker,
		RealizedPnL:   s.RealizedPnL.String(),
		UnrealizedPnL: s.UnrealizedPnL.String(),
		OpenQuantity:  s.OpenQuantity.String(),
		AvgOpenCost:   s.AvgOpenCost.String(),
	}
	if !s.MarkPrice.IsZero() {
		resp.MarkPrice = s.MarkPrice.String()
	}
	if !s.MarkedAt.IsZero() {
		resp.MarkedAt = s.MarkedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *apiHandler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	spec := &orders.Spec{
		Ticker: req.Ticker,
		Side:   types.Side(req.Side),
	}

	var err error
	if spec.Quantity, err = parseDecimal(req.Quantity); err != nil {
		h.writeError(w, "malformed quantity: "+err.Error(), http.StatusBadRequest)
		return
	}
	if spec.LimitPrice, err = parseDecimal(req.LimitPrice); err != nil {
		h.writeError(w, "malformed limit_price: "+err.Error(), http.StatusBadRequest)
		return
	}
	if spec.TrailAmount, err = parseDecimal(req.TrailAmount); err != nil {
		h.writeError(w, "malformed trail_amount: "+err.Error(), http.StatusBadRequest)
		return
	}
	if spec.TrailPercent, err = parseDecimal(req.TrailPercent); err != nil {
		h.writeError(w, "malformed trail_percent: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ExpiresAt != "" {
		spec.ExpiresAt, err = time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			h.writeError(w, "malformed expires_at: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	order, err := h.orders.PlaceOrder(r.Context(), spec)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *apiHandler) handleListOrders(w http.ResponseWriter, _ *http.Request) {
	list := h.orders.List()
	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResponse(o))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *apiHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, ok := h.orders.Get(id)
	if !ok {
		h.writeError(w, "order not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *apiHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orders.CancelOrder(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *apiHandler) handleAddAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	threshold, err := parseDecimal(req.Threshold)
	if err != nil {
		h.writeError(w, "malformed threshold: "+err.Error(), http.StatusBadRequest)
		return
	}

	rule, err := h.alerts.AddRule(r.Context(), &types.AlertRule{
		Metric:    req.Metric,
		Operator:  types.AlertOperator(req.Operator),
		Threshold: threshold,
		Message:   req.Message,
		Cooldown:  time.Duration(req.CooldownSeconds) * time.Second,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toAlertResponse(rule))
}

func (h *apiHandler) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	list := h.alerts.List()
	out := make([]alertResponse, 0, len(list))
	for _, rule := range list {
		out = append(out, toAlertResponse(rule))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *apiHandler) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.alerts.DeleteRule(r.Context(), id); err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, verr.Error(), http.StatusNotFound)
			return
		}
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleListPnL(w http.ResponseWriter, _ *http.Request) {
	summaries := h.ledger.RecomputeAll()
	out := make([]pnlResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toPnLResponse(s))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *apiHandler) handleGetPnL(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	summary, err := h.ledger.Recompute(ticker)
	if err != nil {
		h.writeError(w, "no position history for "+ticker, http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, toPnLResponse(summary))
}

func (h *apiHandler) handleFeedStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.feedwatch.Status()
	resp := map[string]interface{}{
		"healthy":   status.Healthy,
		"last_tick": status.LastTick.Format(time.RFC3339),
	}
	if !status.StaleSince.IsZero() {
		resp["stale_since"] = status.StaleSince.Format(time.RFC3339)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// writeDomainError maps domain error types to HTTP status codes.
func (h *apiHandler) writeDomainError(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		h.writeError(w, verr.Error(), http.StatusBadRequest)
		return
	}

	var conflict *types.StateConflictError
	if errors.As(err, &conflict) {
		if conflict.State == "unknown" {
			h.writeError(w, conflict.Error(), http.StatusNotFound)
			return
		}
		h.writeError(w, conflict.Error(), http.StatusConflict)
		return
	}

	var integrity *types.DataIntegrityError
	if errors.As(err, &integrity) {
		h.writeError(w, integrity.Error(), http.StatusUnprocessableEntity)
		return
	}

	h.logger.Error("api-internal-error", zap.Error(err))
	h.writeError(w, "internal error", http.StatusInternalServerError)
}

func (h *apiHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

func (h *apiHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		h.logger.Error("failed-to-encode-error-response", zap.Error(err))
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
