package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// OversellPolicy controls how the ledger treats a sell exceeding tracked
// open quantity.
type OversellPolicy string

const (
	// OversellReject rejects the trade with a data-integrity error.
	OversellReject OversellPolicy = "reject"
	// OversellShort opens a negative lot representing a short position.
	OversellShort OversellPolicy = "short"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Broker gateway
	GatewayMode    string // "http" or "sim"
	GatewayBaseURL string
	GatewayWSURL   string
	GatewayAccount string
	GatewayTimeout time.Duration

	// WebSocket quote stream
	WSPoolSize              int
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	// P&L reconciliation
	PnLOversellPolicy OversellPolicy

	// Synthetic orders
	OrderMaxSubmitAttempts int
	OrderRetryInitialDelay time.Duration
	OrderRetryMaxDelay     time.Duration
	OrderPollInterval      time.Duration

	// Feed staleness watchdog
	FeedStaleAfter   time.Duration
	FeedResumeWithin time.Duration

	// Alerts
	AlertDefaultCooldown time.Duration

	// FX rates
	FXEnabled      bool
	FXBaseURL      string
	FXPairs        string // comma-separated, e.g. "USD/SGD,USD/HKD"
	FXPollInterval time.Duration

	// Notifications
	NtfyBaseURL string
	NtfyTopic   string

	// Storage
	StorageMode  string // "postgres" or "memory"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		GatewayMode:    getEnvOrDefault("GATEWAY_MODE", "http"),
		GatewayBaseURL: getEnvOrDefault("GATEWAY_BASE_URL", "http://localhost:11111"),
		GatewayWSURL:   getEnvOrDefault("GATEWAY_WS_URL", "ws://localhost:11111/quotes"),
		GatewayAccount: getEnvOrDefault("GATEWAY_ACCOUNT", "default"),
		GatewayTimeout: getDurationOrDefault("GATEWAY_TIMEOUT", 30*time.Second),

		WSPoolSize:              getIntOrDefault("WS_POOL_SIZE", 2),
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 15*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),

		PnLOversellPolicy: OversellPolicy(getEnvOrDefault("PNL_OVERSELL_POLICY", "reject")),

		OrderMaxSubmitAttempts: getIntOrDefault("ORDER_MAX_SUBMIT_ATTEMPTS", 3),
		OrderRetryInitialDelay: getDurationOrDefault("ORDER_RETRY_INITIAL_DELAY", 2*time.Second),
		OrderRetryMaxDelay:     getDurationOrDefault("ORDER_RETRY_MAX_DELAY", 30*time.Second),
		OrderPollInterval:      getDurationOrDefault("ORDER_POLL_INTERVAL", 2*time.Second),

		FeedStaleAfter:   getDurationOrDefault("FEED_STALE_AFTER", 60*time.Second),
		FeedResumeWithin: getDurationOrDefault("FEED_RESUME_WITHIN", 5*time.Second),

		AlertDefaultCooldown: getDurationOrDefault("ALERT_DEFAULT_COOLDOWN", 15*time.Minute),

		FXEnabled:      getBoolOrDefault("FX_ENABLED", false),
		FXBaseURL:      getEnvOrDefault("FX_BASE_URL", "https://api.frankfurter.app"),
		FXPairs:        getEnvOrDefault("FX_PAIRS", "USD/SGD"),
		FXPollInterval: getDurationOrDefault("FX_POLL_INTERVAL", 1*time.Hour),

		NtfyBaseURL: getEnvOrDefault("NTFY_BASE_URL", "https://ntfy.sh"),
		NtfyTopic:   os.Getenv("NTFY_TOPIC"),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", "memory"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "tradekeeper"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "tradekeeper"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "tradekeeper"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.GatewayMode != "http" && c.GatewayMode != "sim" {
		return fmt.Errorf("GATEWAY_MODE must be 'http' or 'sim', got %q", c.GatewayMode)
	}

	if c.GatewayMode == "http" && c.GatewayWSURL == "" {
		return fmt.Errorf("GATEWAY_WS_URL cannot be empty")
	}

	if c.WSPoolSize < 1 {
		return fmt.Errorf("WS_POOL_SIZE must be >= 1, got %d", c.WSPoolSize)
	}

	if c.PnLOversellPolicy != OversellReject && c.PnLOversellPolicy != OversellShort {
		return fmt.Errorf("PNL_OVERSELL_POLICY must be 'reject' or 'short', got %q", c.PnLOversellPolicy)
	}

	if c.OrderMaxSubmitAttempts < 1 {
		return fmt.Errorf("ORDER_MAX_SUBMIT_ATTEMPTS must be >= 1, got %d", c.OrderMaxSubmitAttempts)
	}

	if c.FeedStaleAfter <= 0 {
		return fmt.Errorf("FEED_STALE_AFTER must be positive, got %s", c.FeedStaleAfter)
	}

	if c.StorageMode != "postgres" && c.StorageMode != "memory" {
		return fmt.Errorf("STORAGE_MODE must be 'postgres' or 'memory', got %q", c.StorageMode)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
