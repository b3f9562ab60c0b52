// Package metrics exposes Prometheus instruments for the risk engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HedgesExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_hedges_executed_total",
		Help: "Hedge transactions recorded, by kind.",
	}, []string{"kind"})

	HedgeCost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_hedge_cost_total",
		Help: "Cumulative hedge transaction cost.",
	})

	BatchSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_batch_skips_total",
		Help: "Positions skipped by batch operations, by operation.",
	}, []string{"operation"})

	LimitBreaches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_limit_breaches_total",
		Help: "Risk limit breaches detected, by limit name and severity.",
	}, []string{"limit", "severity"})

	SolverFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_iv_solver_fallbacks_total",
		Help: "Implied volatility solves that fell back to bisection.",
	})

	PortfolioDelta = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_portfolio_net_delta",
		Help: "Net portfolio delta after hedges, in shares.",
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_open_positions",
		Help: "Number of open option positions.",
	})

	StressDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskengine_stress_test_seconds",
		Help:    "Wall time of a stress test run.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)

var registerOnce sync.Once

// Register registers all collectors with reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			HedgesExecuted,
			HedgeCost,
			BatchSkips,
			LimitBreaches,
			SolverFallbacks,
			PortfolioDelta,
			OpenPositions,
			StressDuration,
		)
	})
}
