package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SentTotal tracks notification delivery outcomes
	SentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekeeper_notify_sent_total",
			Help: "Total number of notification delivery attempts by outcome",
		},
		[]string{"result"},
	)
)
