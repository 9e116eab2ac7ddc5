package config

import (
	"fmt"
	"strings"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.TradingMode))
	if mode != "paper" && mode != "live" {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}

	if c.Ledger.StartingBalance <= 0 {
		return fmt.Errorf("ledger.starting_balance must be > 0, got %f", c.Ledger.StartingBalance)
	}
	if c.Ledger.FeePct < 0 || c.Ledger.FeePct > 0.05 {
		return fmt.Errorf("ledger.fee_pct must be within [0,0.05], got %f", c.Ledger.FeePct)
	}
	if c.Ledger.SlippagePct < 0 || c.Ledger.SlippagePct > 0.05 {
		return fmt.Errorf("ledger.slippage_pct must be within [0,0.05], got %f", c.Ledger.SlippagePct)
	}
	if c.Ledger.RiskPerTradePct <= 0 || c.Ledger.RiskPerTradePct > 1 {
		return fmt.Errorf("ledger.risk_per_trade_pct must be within (0,1], got %f", c.Ledger.RiskPerTradePct)
	}
	if c.Ledger.Leverage < 1 || c.Ledger.Leverage > 100 {
		return fmt.Errorf("ledger.leverage must be within [1,100], got %f", c.Ledger.Leverage)
	}
	if c.Ledger.MaxLossPerTrade <= 0 {
		return fmt.Errorf("ledger.max_loss_per_trade must be > 0, got %f", c.Ledger.MaxLossPerTrade)
	}
	if c.Ledger.DailyLossLimit <= 0 {
		return fmt.Errorf("ledger.daily_loss_limit must be > 0, got %f", c.Ledger.DailyLossLimit)
	}

	fm := strings.ToLower(strings.TrimSpace(c.Feed.Mode))
	if fm != "push" && fm != "sim" {
		return fmt.Errorf("feed.mode must be 'push' or 'sim', got %q", c.Feed.Mode)
	}
	if fm == "push" && c.Feed.PushURL == "" {
		return fmt.Errorf("feed.push_url required when feed.mode is 'push'")
	}
	if c.Feed.PollInterval <= 0 {
		return fmt.Errorf("feed.poll_interval must be > 0, got %v", c.Feed.PollInterval)
	}
	if c.Feed.MaxNoDataWS <= 0 || c.Feed.MaxNoDataREST <= 0 {
		return fmt.Errorf("feed.max_no_data_ws and feed.max_no_data_rest must be > 0")
	}
	sm := strings.ToLower(strings.TrimSpace(c.Feed.Sim.Model))
	if sm != "gbm" && sm != "walk" {
		return fmt.Errorf("feed.sim.model must be 'gbm' or 'walk', got %q", c.Feed.Sim.Model)
	}
	if c.Feed.Sim.StartPrice <= 0 {
		return fmt.Errorf("feed.sim.start_price must be > 0, got %f", c.Feed.Sim.StartPrice)
	}
	if c.Feed.Sim.Volatility < 0 || c.Feed.Sim.Dt <= 0 {
		return fmt.Errorf("feed.sim.volatility must be >= 0 and feed.sim.dt > 0")
	}
	if sm == "walk" && (c.Feed.Sim.WalkStep <= 0 || c.Feed.Sim.WalkMin <= 0 || c.Feed.Sim.WalkMax <= c.Feed.Sim.WalkMin) {
		return fmt.Errorf("feed.sim walk bounds invalid: step=%f min=%f max=%f",
			c.Feed.Sim.WalkStep, c.Feed.Sim.WalkMin, c.Feed.Sim.WalkMax)
	}

	if c.Perf.EquityWindow < 2 {
		return fmt.Errorf("perf.equity_window must be >= 2, got %d", c.Perf.EquityWindow)
	}

	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be > 0, got %v", c.Monitor.Interval)
	}
	if c.Monitor.MaxCPUPct <= 0 || c.Monitor.MaxCPUPct > 100 {
		return fmt.Errorf("monitor.max_cpu_pct must be within (0,100], got %f", c.Monitor.MaxCPUPct)
	}
	if c.Monitor.MaxRAMPct <= 0 || c.Monitor.MaxRAMPct > 100 {
		return fmt.Errorf("monitor.max_ram_pct must be within (0,100], got %f", c.Monitor.MaxRAMPct)
	}

	if c.Loop.ReportEveryTrades <= 0 {
		return fmt.Errorf("loop.report_every_trades must be > 0, got %d", c.Loop.ReportEveryTrades)
	}
	if c.Loop.SymmetryWindow <= 0 || c.Loop.SymmetryMinSamples <= 0 {
		return fmt.Errorf("loop symmetry window and min samples must be > 0")
	}
	if c.Loop.SymmetryMinSamples > c.Loop.SymmetryWindow {
		return fmt.Errorf("loop.symmetry_min_samples (%d) exceeds loop.symmetry_window (%d)",
			c.Loop.SymmetryMinSamples, c.Loop.SymmetryWindow)
	}
	if c.Loop.SymmetryMaxGap <= 0 || c.Loop.SymmetryMaxGap >= 1 {
		return fmt.Errorf("loop.symmetry_max_gap must be within (0,1), got %f", c.Loop.SymmetryMaxGap)
	}
	if c.Loop.RatchetDrawdownPct <= 0 || c.Loop.RatchetDrawdownPct >= 1 {
		return fmt.Errorf("loop.ratchet_drawdown_pct must be within (0,1), got %f", c.Loop.RatchetDrawdownPct)
	}
	if c.Loop.RatchetFactor <= 0 || c.Loop.RatchetFactor >= 1 {
		return fmt.Errorf("loop.ratchet_factor must be within (0,1), got %f", c.Loop.RatchetFactor)
	}
	if c.Loop.RiskFloorPct <= 0 || c.Loop.RiskFloorPct > c.Ledger.RiskPerTradePct {
		return fmt.Errorf("loop.risk_floor_pct must be within (0, risk_per_trade_pct], got %f", c.Loop.RiskFloorPct)
	}
	if c.Loop.Reopt.MinTrades <= 0 || c.Loop.Reopt.MinTicks <= 0 || c.Loop.Reopt.MinInterval <= 0 {
		return fmt.Errorf("loop.reopt debounce minimums must all be > 0")
	}

	if c.Cycle.RequiredConsec <= 0 {
		return fmt.Errorf("cycle.required_consecutive must be > 0, got %d", c.Cycle.RequiredConsec)
	}
	if c.Cycle.MaxDrawdownPct <= 0 || c.Cycle.MaxDrawdownPct >= 1 {
		return fmt.Errorf("cycle.max_drawdown_pct must be within (0,1), got %f", c.Cycle.MaxDrawdownPct)
	}
	if c.Cycle.MinWinratePct < 0 || c.Cycle.MinWinratePct > 100 {
		return fmt.Errorf("cycle.min_winrate_pct must be within [0,100], got %f", c.Cycle.MinWinratePct)
	}
	if c.Cycle.CorrectiveFactor <= 0 || c.Cycle.CorrectiveFactor >= 1 {
		return fmt.Errorf("cycle.corrective_factor must be within (0,1), got %f", c.Cycle.CorrectiveFactor)
	}
	if c.Cycle.DebounceFactor <= 0 || c.Cycle.DebounceFactor >= 1 {
		return fmt.Errorf("cycle.debounce_factor must be within (0,1), got %f", c.Cycle.DebounceFactor)
	}
	if c.Cycle.SessionDuration <= 0 || c.Cycle.ValidationDuration <= 0 {
		return fmt.Errorf("cycle.session_duration and cycle.validation_duration must be > 0")
	}

	return nil
}
