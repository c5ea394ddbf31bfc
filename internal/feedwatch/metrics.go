package feedwatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedHealthy reports the current feed health state (1 healthy, 0 stale)
	FeedHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradekeeper_feed_healthy",
			Help: "Whether the price feed is currently healthy (1) or stale (0)",
		},
	)

	// StaleTransitionsTotal counts healthy-to-stale transitions
	StaleTransitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradekeeper_feed_stale_transitions_total",
			Help: "Total number of times the price feed went stale",
		},
	)
)
