package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "basileus_tokens_issued_total",
	Help: "Total number of session tokens issued.",
})

var tokensInvalidated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "basileus_tokens_invalidated_total",
	Help: "Total number of session tokens removed by invalidation.",
})

var tokensExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "basileus_tokens_expired_total",
	Help: "Total number of session tokens removed by expiry sweeps.",
})

var tokensActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "basileus_tokens_active",
	Help: "Session tokens currently held in memory.",
})
