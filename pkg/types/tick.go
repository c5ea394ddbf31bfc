package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is a single normalized price observation for a ticker or a
// named metric (e.g. an FX rate). Ticks are transient: they are routed to
// subscribers but never persisted.
type PriceTick struct {
	Metric string
	Value  decimal.Decimal
	At     time.Time
}

// QuoteMessage is the wire shape of a quote update from the broker gateway
// WebSocket stream. Prices arrive as strings and are parsed during
// normalization.
type QuoteMessage struct {
	EventType string `json:"event_type"`
	Ticker    string `json:"ticker"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}
