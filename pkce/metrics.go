package pkce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var authRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "basileus_pkce_auth_requests_total",
	Help: "Authorization requests by outcome.",
}, []string{"outcome"})

var redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "basileus_pkce_redemptions_total",
	Help: "Authorization code redemptions by outcome.",
}, []string{"outcome"})

var pendingCodes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "basileus_pkce_pending_codes",
	Help: "Authorization codes currently awaiting redemption.",
})
