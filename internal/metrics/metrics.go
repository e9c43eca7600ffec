// Package metrics exposes Prometheus metrics for the sandbox engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sandbox engine.
type Metrics struct {
	MatchCycles     prometheus.Counter
	FillsTotal      prometheus.Counter
	OrdersPlaced    prometheus.Counter
	OrdersRejected  prometheus.Counter
	QuoteFailures   prometheus.Counter
	ReconcileDrift  prometheus.Counter
	SquareOffsTotal prometheus.Counter
	SquareOffFails  prometheus.Counter
	Settlements     prometheus.Counter
	Resets          prometheus.Counter
	OpenOrders      prometheus.Gauge
	MatchCycleDur   prometheus.Histogram
}

// New registers and returns all sandbox metrics on a fresh registry.
func New() (*Metrics, *prometheus.Registry) {
	m := &Metrics{
		MatchCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_match_cycles_total",
			Help: "Total matching engine cycles",
		}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_fills_total",
			Help: "Total simulated fills",
		}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_orders_placed_total",
			Help: "Total orders admitted by the gateway",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_orders_rejected_total",
			Help: "Total orders rejected by the gateway",
		}),
		QuoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_quote_failures_total",
			Help: "Total quote fetch failures (batch or single)",
		}),
		ReconcileDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_reconcile_drift_total",
			Help: "Total reconciliation drift detections",
		}),
		SquareOffsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_squareoffs_total",
			Help: "Total intraday positions squared off",
		}),
		SquareOffFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_squareoff_failures_total",
			Help: "Total square-off exit orders rejected",
		}),
		Settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_settlements_total",
			Help: "Total delivery positions settled into holdings",
		}),
		Resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_resets_total",
			Help: "Total fund account resets",
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_open_orders",
			Help: "Open orders at the last matching cycle",
		}),
		MatchCycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandbox_match_cycle_duration_seconds",
			Help:    "Matching cycle duration",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.MatchCycles, m.FillsTotal, m.OrdersPlaced, m.OrdersRejected,
		m.QuoteFailures, m.ReconcileDrift, m.SquareOffsTotal, m.SquareOffFails,
		m.Settlements, m.Resets, m.OpenOrders, m.MatchCycleDur,
	)
	return m, reg
}

// Handler returns an HTTP handler serving the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
