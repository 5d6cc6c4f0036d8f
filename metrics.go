package basileus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "basileus_logins_total",
	Help: "Password login attempts by outcome.",
}, []string{"outcome"})
