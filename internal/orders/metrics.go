package orders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersPlacedTotal tracks accepted synthetic orders by side
	OrdersPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_orders_placed_total",
			Help: "Total number of synthetic orders accepted",
		},
		[]string{"side"},
	)

	// OrdersRejectedTotal tracks orders rejected at validation
	OrdersRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradekeeper_orders_rejected_total",
			Help: "Total number of synthetic orders rejected at validation",
		},
	)

	// OrdersTriggeredTotal tracks trigger decisions by action
	OrdersTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_orders_triggered_total",
			Help: "Total number of synthetic orders triggered",
		},
		[]string{"action"},
	)

	// OrdersFinishedTotal tracks terminal transitions by outcome
	OrdersFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_orders_finished_total",
			Help: "Total number of synthetic orders reaching a terminal state",
		},
		[]string{"outcome"},
	)

	// SubmissionsTotal tracks native order submission outcomes
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_orders_submissions_total",
			Help: "Total number of native order submission outcomes",
		},
		[]string{"result"},
	)

	// OrdersActive tracks currently watching order runners
	OrdersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradekeeper_orders_active",
			Help: "Number of synthetic orders currently being watched",
		},
	)
)
