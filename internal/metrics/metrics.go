// Package metrics exposes the Prometheus collectors updated by the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "goaltrader_orders_total", Help: "Orders attempted by side and result"},
		[]string{"side", "result"},
	)
	OrderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goaltrader_order_latency_seconds",
			Help:    "Time from request to first accepted submission",
			Buckets: []float64{.05, .1, .2, .3, .5, .75, 1, 2, 5},
		},
		[]string{"side"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "goaltrader_decisions_total", Help: "Entry decisions by outcome"},
		[]string{"decision"},
	)
	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "goaltrader_exits_total", Help: "Confirmed exits by reason"},
		[]string{"reason"},
	)
	RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "goaltrader_redemptions_total", Help: "Settlement attempts by path and result"},
		[]string{"path", "result"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "goaltrader_open_positions", Help: "Currently open managed positions"},
	)
)

func init() {
	prometheus.MustRegister(OrdersTotal, OrderLatency, DecisionsTotal, ExitsTotal, RedemptionsTotal, OpenPositions)
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps a success flag to a label value.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
