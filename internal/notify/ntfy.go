package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds ntfy client configuration.
type Config struct {
	BaseURL string
	Topic   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client publishes push notifications to an ntfy topic. An empty topic
// disables delivery without the callers having to care.
type Client struct {
	baseURL string
	topic   string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a new ntfy notification client.
func New(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		topic:   cfg.Topic,
		client:  &http.Client{Timeout: timeout},
		logger:  cfg.Logger,
	}
}

// Notify publishes a notification with the default priority.
func (c *Client) Notify(ctx context.Context, title, message string) error {
	return c.publish(ctx, title, message, "default")
}

// NotifyUrgent publishes a high-priority notification.
func (c *Client) NotifyUrgent(ctx context.Context, title, message string) error {
	return c.publish(ctx, title, message, "high")
}

func (c *Client) publish(ctx context.Context, title, message, priority string) error {
	if c.topic == "" {
		return nil
	}

	url := c.baseURL + "/" + c.topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)

	resp, err := c.client.Do(req)
	if err != nil {
		SentTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		SentTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("notify returned status %d: %s", resp.StatusCode, string(body))
	}

	SentTotal.WithLabelValues("success").Inc()
	c.logger.Debug("notification-sent",
		zap.String("title", title),
		zap.String("priority", priority))
	return nil
}
