package fx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollsTotal tracks exchange rate poll outcomes
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_fx_polls_total",
			Help: "Total number of exchange rate poll attempts by outcome",
		},
		[]string{"result"},
	)
)
