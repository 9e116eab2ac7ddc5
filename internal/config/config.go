package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	TradingMode      string   `yaml:"trading_mode"` // paper | live
	LogLevel         string   `yaml:"log_level"`
	Symbols          []string `yaml:"symbols"`
	DataDir          string   `yaml:"data_dir"`
	StrategyArtifact string   `yaml:"strategy_artifact"`
	ModelDir         string   `yaml:"model_dir"`
	ConfirmationFile string   `yaml:"confirmation_file"` // required for live mode

	Ledger    LedgerConfig    `yaml:"ledger"`
	Feed      FeedConfig      `yaml:"feed"`
	Perf      PerfConfig      `yaml:"perf"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Loop      LoopConfig      `yaml:"loop"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Cycle     CycleConfig     `yaml:"cycle"`
	API       APIConfig       `yaml:"api"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LedgerConfig struct {
	StartingBalance float64 `yaml:"starting_balance"`
	FeePct          float64 `yaml:"fee_pct"`      // fraction, e.g. 0.0005
	SlippagePct     float64 `yaml:"slippage_pct"` // fraction, always adverse
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	Leverage        float64 `yaml:"leverage"`
	MaxLossPerTrade float64 `yaml:"max_loss_per_trade"`
	DailyLossLimit  float64 `yaml:"daily_loss_limit"`
}

type FeedConfig struct {
	Mode           string        `yaml:"mode"` // push | sim
	PushURL        string        `yaml:"push_url"`
	PullURL        string        `yaml:"pull_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxNoDataWS    int           `yaml:"max_no_data_ws"`
	MaxNoDataREST  int           `yaml:"max_no_data_rest"`
	Sim            SimConfig     `yaml:"sim"`
}

type SimConfig struct {
	Model      string  `yaml:"model"` // gbm | walk
	Seed       int64   `yaml:"seed"`
	StartPrice float64 `yaml:"start_price"`
	Drift      float64 `yaml:"drift"`      // annualized mu
	Volatility float64 `yaml:"volatility"` // annualized sigma
	Dt         float64 `yaml:"dt"`         // step as fraction of a year
	WalkStep   float64 `yaml:"walk_step"`
	WalkMin    float64 `yaml:"walk_min"`
	WalkMax    float64 `yaml:"walk_max"`
}

type PerfConfig struct {
	EquityWindow int `yaml:"equity_window"`
}

type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MaxCPUPct    float64       `yaml:"max_cpu_pct"`
	MaxRAMPct    float64       `yaml:"max_ram_pct"`
	ProbeAddr    string        `yaml:"probe_addr"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type LoopConfig struct {
	MaxTicks           int           `yaml:"max_ticks"` // 0 = unbounded
	ReportEveryTrades  int           `yaml:"report_every_trades"`
	SymmetryWindow     int           `yaml:"symmetry_window"`
	SymmetryMinSamples int           `yaml:"symmetry_min_samples"`
	SymmetryMaxGap     float64       `yaml:"symmetry_max_gap"` // fraction of total sides
	RatchetDrawdownPct float64       `yaml:"ratchet_drawdown_pct"`
	RatchetFactor      float64       `yaml:"ratchet_factor"`
	RiskFloorPct       float64       `yaml:"risk_floor_pct"`
	VolWindow          int           `yaml:"vol_window"`
	WarmupCandles      int           `yaml:"warmup_candles"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
	Reopt              ReoptConfig   `yaml:"reopt"`
}

type ReoptConfig struct {
	MinTrades         int           `yaml:"min_trades"`
	MinTicks          int           `yaml:"min_ticks"`
	MinInterval       time.Duration `yaml:"min_interval"`
	ProfitThreshold   float64       `yaml:"profit_threshold"`
	DrawdownThreshold float64       `yaml:"drawdown_threshold"`
	VolatilityTrigger float64       `yaml:"volatility_trigger"`
}

type OptimizerConfig struct {
	Command         string        `yaml:"command"`
	Timeout         time.Duration `yaml:"timeout"`
	Trials          int           `yaml:"trials"`
	VerifierCommand string        `yaml:"verifier_command"`
	VerifyOnStart   bool          `yaml:"verify_on_start"`
}

type CycleConfig struct {
	SessionDuration    time.Duration `yaml:"session_duration"`
	ValidationDuration time.Duration `yaml:"validation_duration"`
	CooldownSleep      time.Duration `yaml:"cooldown_sleep"`
	MaxCycles          int           `yaml:"max_cycles"`
	RequiredConsec     int           `yaml:"required_consecutive"`
	MaxDrawdownPct     float64       `yaml:"max_drawdown_pct"`
	MinSharpe          float64       `yaml:"min_sharpe"`
	MinWinratePct      float64       `yaml:"min_winrate_pct"`
	TolerancePnL       float64       `yaml:"tolerance_pnl"`
	ToleranceDrawdown  float64       `yaml:"tolerance_drawdown"`
	ToleranceWinrate   float64       `yaml:"tolerance_winrate"`
	ToleranceSharpe    float64       `yaml:"tolerance_sharpe"`
	CorrectiveFactor   float64       `yaml:"corrective_factor"`
	DebounceFactor     float64       `yaml:"debounce_factor"`
	TrialsStep         int           `yaml:"trials_step"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

func Default() Config {
	return Config{
		TradingMode:      "paper",
		LogLevel:         "info",
		Symbols:          []string{"BTC-USD"},
		DataDir:          "data",
		StrategyArtifact: "data/strategy.json",
		ModelDir:         "data/models",
		ConfirmationFile: "data/CONFIRM_LIVE",
		Ledger: LedgerConfig{
			StartingBalance: 10000,
			FeePct:          0.0005,
			SlippagePct:     0.0001,
			RiskPerTradePct: 0.01,
			Leverage:        1,
			MaxLossPerTrade: 50,
			DailyLossLimit:  200,
		},
		Feed: FeedConfig{
			Mode:           "sim",
			PollInterval:   time.Second,
			ReconnectDelay: 3 * time.Second,
			MaxNoDataWS:    30,
			MaxNoDataREST:  10,
			Sim: SimConfig{
				Model:      "gbm",
				Seed:       42,
				StartPrice: 100,
				Drift:      0.05,
				Volatility: 0.60,
				Dt:         1.0 / (252 * 390),
				WalkStep:   0.25,
				WalkMin:    1,
				WalkMax:    100000,
			},
		},
		Perf: PerfConfig{
			EquityWindow: 500,
		},
		Monitor: MonitorConfig{
			Interval:     5 * time.Second,
			MaxCPUPct:    90,
			MaxRAMPct:    90,
			ProbeAddr:    "1.1.1.1:53",
			ProbeTimeout: 2 * time.Second,
		},
		Loop: LoopConfig{
			ReportEveryTrades:  10,
			SymmetryWindow:     50,
			SymmetryMinSamples: 20,
			SymmetryMaxGap:     0.05,
			RatchetDrawdownPct: 0.12,
			RatchetFactor:      0.7,
			RiskFloorPct:       0.001,
			VolWindow:          30,
			WarmupCandles:      120,
			ShutdownGrace:      5 * time.Second,
			Reopt: ReoptConfig{
				MinTrades:         20,
				MinTicks:          300,
				MinInterval:       10 * time.Minute,
				ProfitThreshold:   0,
				DrawdownThreshold: 0.08,
				VolatilityTrigger: 0.02,
			},
		},
		Optimizer: OptimizerConfig{
			Timeout: 10 * time.Minute,
			Trials:  50,
		},
		Cycle: CycleConfig{
			SessionDuration:    30 * time.Minute,
			ValidationDuration: 15 * time.Minute,
			CooldownSleep:      time.Minute,
			MaxCycles:          12,
			RequiredConsec:     3,
			MaxDrawdownPct:     0.15,
			MinSharpe:          0.5,
			MinWinratePct:      45,
			TolerancePnL:       1,
			ToleranceDrawdown:  0.0025,
			ToleranceWinrate:   1,
			ToleranceSharpe:    0.05,
			CorrectiveFactor:   0.75,
			DebounceFactor:     0.9,
			TrialsStep:         25,
		},
		API: APIConfig{
			Addr: ":8080",
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteFile persists the config as yaml. The sequencer emits a fresh
// corrective config file per cycle instead of mutating a shared one.
func (c Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("STABILIZER_TRADING_MODE")); v != "" {
		c.TradingMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("STABILIZER_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("STABILIZER_DATA_DIR")); v != "" {
		c.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("STABILIZER_FEED_MODE")); v != "" {
		c.Feed.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("STABILIZER_PUSH_URL")); v != "" {
		c.Feed.PushURL = v
	}
	if v := strings.TrimSpace(os.Getenv("STABILIZER_PULL_URL")); v != "" {
		c.Feed.PullURL = v
	}
	if v := os.Getenv("STABILIZER_SIM_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Feed.Sim.Seed = seed
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
}
