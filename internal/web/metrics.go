package web

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "katagollum_http_requests_total",
			Help: "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "katagollum_http_request_duration_seconds",
			Help:    "HTTP handler latency.",
			Buckets: []float64{0.005, 0.05, 0.25, 1, 5, 30, 120, 600},
		},
		[]string{"route"},
	)
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "katagollum_ws_connections",
		Help: "Open websocket subscriptions.",
	})
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, wsConnections)
}
