package pricefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksPublishedTotal tracks ticks fanned out per metric
	TicksPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_pricefeed_ticks_published_total",
			Help: "Total number of price ticks published per metric",
		},
		[]string{"metric"},
	)

	// TicksDedupedTotal tracks consecutive identical values dropped
	TicksDedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradekeeper_pricefeed_ticks_deduped_total",
			Help: "Total number of ticks dropped as identical to the previous value",
		},
	)

	// TicksDroppedTotal tracks ticks dropped due to slow consumers
	TicksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_pricefeed_ticks_dropped_total",
			Help: "Total number of ticks dropped due to full consumer buffers",
		},
		[]string{"metric"},
	)

	// TicksMalformedTotal tracks quote messages that failed normalization
	TicksMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradekeeper_pricefeed_ticks_malformed_total",
			Help: "Total number of quote messages that failed normalization",
		},
	)

	// SubscriptionsActive tracks currently active consumer subscriptions
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradekeeper_pricefeed_subscriptions_active",
			Help: "Number of active price feed subscriptions",
		},
	)
)
