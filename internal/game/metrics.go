package game

import "github.com/prometheus/client_golang/prometheus"

var turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "katagollum_turns_total",
	Help: "Completed user turns by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(turnsTotal)
}
