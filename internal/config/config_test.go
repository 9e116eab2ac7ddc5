package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.TradingMode != "paper" {
		t.Fatalf("default mode = %q, want paper", cfg.TradingMode)
	}
	if cfg.Cycle.RequiredConsec != 3 {
		t.Fatalf("required_consecutive = %d, want 3", cfg.Cycle.RequiredConsec)
	}
}

func TestWriteLoadRoundtrip(t *testing.T) {
	cfg := Default()
	cfg.Symbols = []string{"ETH-USD", "SOL-USD"}
	cfg.Ledger.RiskPerTradePct = 0.02
	cfg.Loop.Reopt.MinInterval = 7 * time.Minute
	cfg.Optimizer.Trials = 75

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.WriteFile(path); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(loaded.Symbols) != 2 || loaded.Symbols[0] != "ETH-USD" {
		t.Fatalf("symbols = %v", loaded.Symbols)
	}
	if loaded.Ledger.RiskPerTradePct != 0.02 {
		t.Fatalf("risk_per_trade_pct = %f, want 0.02", loaded.Ledger.RiskPerTradePct)
	}
	if loaded.Loop.Reopt.MinInterval != 7*time.Minute {
		t.Fatalf("reopt.min_interval = %v, want 7m", loaded.Loop.Reopt.MinInterval)
	}
	if loaded.Optimizer.Trials != 75 {
		t.Fatalf("optimizer.trials = %d, want 75", loaded.Optimizer.Trials)
	}
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cfg.TradingMode != "paper" || cfg.Ledger.StartingBalance != 10000 {
		t.Fatalf("missing file should still yield defaults, got %+v", cfg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STABILIZER_TRADING_MODE", "LIVE")
	t.Setenv("STABILIZER_FEED_MODE", "push")
	t.Setenv("STABILIZER_PUSH_URL", "wss://example.test/ws")
	t.Setenv("STABILIZER_SIM_SEED", "1234")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "chat")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.TradingMode != "live" {
		t.Fatalf("mode = %q, want live", cfg.TradingMode)
	}
	if cfg.Feed.Mode != "push" || cfg.Feed.PushURL != "wss://example.test/ws" {
		t.Fatalf("feed = %q %q", cfg.Feed.Mode, cfg.Feed.PushURL)
	}
	if cfg.Feed.Sim.Seed != 1234 {
		t.Fatalf("seed = %d, want 1234", cfg.Feed.Sim.Seed)
	}
	if cfg.Telegram.BotToken != "tok" || cfg.Telegram.ChatID != "chat" {
		t.Fatalf("telegram = %q %q", cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
}

func TestApplyEnvIgnoresBadSeed(t *testing.T) {
	t.Setenv("STABILIZER_SIM_SEED", "not-a-number")
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Feed.Sim.Seed != 42 {
		t.Fatalf("seed = %d, want default 42", cfg.Feed.Sim.Seed)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.TradingMode = "demo" }},
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero balance", func(c *Config) { c.Ledger.StartingBalance = 0 }},
		{"fee too high", func(c *Config) { c.Ledger.FeePct = 0.1 }},
		{"risk above one", func(c *Config) { c.Ledger.RiskPerTradePct = 1.5 }},
		{"leverage below one", func(c *Config) { c.Ledger.Leverage = 0.5 }},
		{"push without url", func(c *Config) { c.Feed.Mode = "push"; c.Feed.PushURL = "" }},
		{"bad sim model", func(c *Config) { c.Feed.Sim.Model = "levy" }},
		{"walk bounds inverted", func(c *Config) {
			c.Feed.Sim.Model = "walk"
			c.Feed.Sim.WalkMin = 100
			c.Feed.Sim.WalkMax = 10
		}},
		{"equity window too small", func(c *Config) { c.Perf.EquityWindow = 1 }},
		{"cpu limit above 100", func(c *Config) { c.Monitor.MaxCPUPct = 150 }},
		{"min samples above window", func(c *Config) {
			c.Loop.SymmetryWindow = 10
			c.Loop.SymmetryMinSamples = 20
		}},
		{"ratchet factor at one", func(c *Config) { c.Loop.RatchetFactor = 1 }},
		{"risk floor above risk", func(c *Config) { c.Loop.RiskFloorPct = 0.5 }},
		{"zero consecutive", func(c *Config) { c.Cycle.RequiredConsec = 0 }},
		{"corrective factor at one", func(c *Config) { c.Cycle.CorrectiveFactor = 1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCorrectiveShrinksRisk(t *testing.T) {
	cfg := Default()
	next := Corrective(cfg)

	if next.Ledger.RiskPerTradePct != 0.01*0.75 {
		t.Fatalf("risk = %f, want %f", next.Ledger.RiskPerTradePct, 0.01*0.75)
	}
	if next.Ledger.MaxLossPerTrade != 50*0.75 {
		t.Fatalf("max_loss = %f, want %f", next.Ledger.MaxLossPerTrade, 50*0.75)
	}
	if cfg.Ledger.RiskPerTradePct != 0.01 {
		t.Fatal("input config must not be mutated")
	}
}

func TestCorrectiveRiskFloor(t *testing.T) {
	cfg := Default()
	cfg.Ledger.RiskPerTradePct = cfg.Loop.RiskFloorPct
	next := Corrective(cfg)
	if next.Ledger.RiskPerTradePct != cfg.Loop.RiskFloorPct {
		t.Fatalf("risk = %f, want floor %f", next.Ledger.RiskPerTradePct, cfg.Loop.RiskFloorPct)
	}
}

func TestCorrectiveTightensDebounce(t *testing.T) {
	cfg := Default()
	next := Corrective(cfg)

	if next.Loop.Reopt.MinTicks != 270 {
		t.Fatalf("min_ticks = %d, want 270", next.Loop.Reopt.MinTicks)
	}
	if next.Loop.Reopt.MinTrades != 18 {
		t.Fatalf("min_trades = %d, want 18", next.Loop.Reopt.MinTrades)
	}
	if next.Loop.Reopt.MinInterval != 9*time.Minute {
		t.Fatalf("min_interval = %v, want 9m", next.Loop.Reopt.MinInterval)
	}
	if next.Optimizer.Trials != 75 {
		t.Fatalf("trials = %d, want 75", next.Optimizer.Trials)
	}
}

func TestCorrectiveRepeatedStaysValid(t *testing.T) {
	cfg := Default()
	for i := 0; i < 20; i++ {
		cfg = Corrective(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("corrective chain broke validation: %v", err)
	}
	if cfg.Ledger.RiskPerTradePct < cfg.Loop.RiskFloorPct {
		t.Fatalf("risk %f fell below floor %f", cfg.Ledger.RiskPerTradePct, cfg.Loop.RiskFloorPct)
	}
	if cfg.Loop.Reopt.MinTicks < 1 || cfg.Loop.Reopt.MinTrades < 1 {
		t.Fatal("debounce minimums must stay positive")
	}
}
