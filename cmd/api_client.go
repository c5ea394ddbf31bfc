package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// apiClient talks to a running tradekeeper service's command API. Client
// commands are thin: all domain logic lives in the service.
type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient() (*apiClient, error) {
	// Load environment
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	addr := os.Getenv("TRADEKEEPER_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}

	return &apiClient{
		baseURL: strings.TrimRight(addr, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// apiError is a non-2xx response from the service, carrying the error
// envelope's message when one was returned.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("service returned %d: %s", e.StatusCode, e.Message)
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &envelope)
		if envelope.Error == "" {
			envelope.Error = strings.TrimSpace(string(data))
		}
		return &apiError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}

	if out == nil {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// orderView mirrors the service's order JSON.
type orderView struct {
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
	FillPrice      string `json:"fill_price,omitempty"`
	SubmitAttempts int    `json:"submit_attempts,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

// alertView mirrors the service's alert rule JSON.
type alertView struct {
	ID              string `json:"id"`
	Metric          string `json:"metric"`
	Operator        string `json:"operator"`
	Threshold       string `json:"threshold"`
	Message         string `json:"message,omitempty"`
	CooldownSeconds int    `json:"cooldown_seconds"`
	LastFiredAt     string `json:"last_fired_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// pnlView mirrors the service's position summary JSON.
type pnlView struct {
	Ticker        string `json:"ticker"`
	RealizedPnL   string `json:"realized_pnl"`
	UnrealizedPnL string `json:"unrealized_pnl"`
	OpenQuantity  string `json:"open_quantity"`
	AvgOpenCost   string `json:"avg_open_cost"`
	MarkPrice     string `json:"mark_price,omitempty"`
	MarkedAt      string `json:"marked_at,omitempty"`
}
