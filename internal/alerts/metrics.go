package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal tracks rule evaluations by outcome
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_alerts_evaluations_total",
			Help: "Total number of alert rule evaluations by outcome",
		},
		[]string{"outcome"},
	)

	// FiredTotal tracks fired alerts per metric
	FiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_alerts_fired_total",
			Help: "Total number of alerts fired per metric",
		},
		[]string{"metric"},
	)
)
