package config

import "time"

// Corrective derives the next cycle's configuration from a non-converged one.
// It returns a new value; the input config is left untouched so the sequencer
// keeps an auditable config per cycle.
//
// Adjustments: shrink per-trade risk and the per-trade loss cap, tighten the
// re-optimization debounce windows, and raise the optimizer trial budget.
func Corrective(c Config) Config {
	next := c

	next.Ledger.RiskPerTradePct = c.Ledger.RiskPerTradePct * c.Cycle.CorrectiveFactor
	if next.Ledger.RiskPerTradePct < c.Loop.RiskFloorPct {
		next.Ledger.RiskPerTradePct = c.Loop.RiskFloorPct
	}
	next.Ledger.MaxLossPerTrade = c.Ledger.MaxLossPerTrade * c.Cycle.CorrectiveFactor

	next.Loop.Reopt.MinTicks = scaleInt(c.Loop.Reopt.MinTicks, c.Cycle.DebounceFactor, 1)
	next.Loop.Reopt.MinTrades = scaleInt(c.Loop.Reopt.MinTrades, c.Cycle.DebounceFactor, 1)
	next.Loop.Reopt.MinInterval = scaleDuration(c.Loop.Reopt.MinInterval, c.Cycle.DebounceFactor, time.Second)

	next.Optimizer.Trials = c.Optimizer.Trials + c.Cycle.TrialsStep

	return next
}

func scaleInt(v int, factor float64, floor int) int {
	scaled := int(float64(v) * factor)
	if scaled < floor {
		return floor
	}
	return scaled
}

func scaleDuration(v time.Duration, factor float64, floor time.Duration) time.Duration {
	scaled := time.Duration(float64(v) * factor)
	if scaled < floor {
		return floor
	}
	return scaled
}
