// Package obs holds the Prometheus metrics updated during operation:
//
//	stabilizer_ticks_total{tier}          – ticks consumed, split by feed tier
//	stabilizer_signals_total{signal}      – strategy decisions (buy|sell|hold)
//	stabilizer_orders_total{side}         – orders executed by the ledger
//	stabilizer_rejections_total{reason}   – orders the ledger refused
//	stabilizer_symmetry_holds_total       – signals suppressed by the symmetry guard
//	stabilizer_reoptimizations_total      – optimizer runs triggered by the loop
//	stabilizer_risk_per_trade             – current per-trade risk fraction (gauge)
//	stabilizer_equity_usd                 – current equity snapshot (gauge)
//	stabilizer_feed_tier{tier}            – active feed tier as 0/1 labeled series
//	stabilizer_cooldowns_total            – resource cooldowns entered
//
// All metrics are registered in init() and served at /metrics by the status
// server.
package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stabilizer_ticks_total",
			Help: "Ticks consumed by the control loop, split by feed tier",
		},
		[]string{"tier"},
	)

	mtxSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stabilizer_signals_total",
			Help: "Strategy decisions taken",
		},
		[]string{"signal"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stabilizer_orders_total",
			Help: "Orders executed",
		},
		[]string{"side"}, // BUY|SELL
	)

	mtxRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stabilizer_rejections_total",
			Help: "Orders rejected by the ledger, split by reason",
		},
		[]string{"reason"},
	)

	mtxSymmetryHolds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stabilizer_symmetry_holds_total",
			Help: "Signals converted to hold by the symmetry guard",
		},
	)

	mtxReopts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stabilizer_reoptimizations_total",
			Help: "Re-optimization runs triggered during live sessions",
		},
	)

	mtxRiskPerTrade = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stabilizer_risk_per_trade",
			Help: "Current per-trade risk fraction after any ratchet",
		},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stabilizer_equity_usd",
			Help: "Equity in USD",
		},
	)

	// stabilizer_feed_tier exposes one labeled series per tier and flips them
	// between 0/1 to keep dashboards simple.
	mtxFeedTier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stabilizer_feed_tier",
			Help: "Active market feed tier (push/pull/sim as separate labeled series)",
		},
		[]string{"tier"},
	)

	mtxCooldowns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stabilizer_cooldowns_total",
			Help: "Resource cooldowns entered",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxTicks, mtxSignals, mtxOrders, mtxRejections)
	prometheus.MustRegister(mtxSymmetryHolds, mtxReopts)
	prometheus.MustRegister(mtxRiskPerTrade, mtxEquity, mtxFeedTier, mtxCooldowns)
}

func IncTick(tier string)          { mtxTicks.WithLabelValues(tier).Inc() }
func IncSignal(signal string)      { mtxSignals.WithLabelValues(signal).Inc() }
func IncOrder(side string)         { mtxOrders.WithLabelValues(side).Inc() }
func IncRejection(reason string)   { mtxRejections.WithLabelValues(reason).Inc() }
func IncSymmetryHold()             { mtxSymmetryHolds.Inc() }
func IncReoptimization()           { mtxReopts.Inc() }
func SetRiskPerTrade(v float64)    { mtxRiskPerTrade.Set(v) }
func SetEquity(v float64)          { mtxEquity.Set(v) }
func IncCooldown()                 { mtxCooldowns.Inc() }

// SetFeedTier marks one tier active and zeroes the others.
func SetFeedTier(tier string) {
	for _, t := range []string{"push", "pull", "sim"} {
		v := 0.0
		if t == tier {
			v = 1
		}
		mtxFeedTier.WithLabelValues(t).Set(v)
	}
}
