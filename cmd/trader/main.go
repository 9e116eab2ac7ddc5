package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/adaptrade/stabilizer/internal/api"
	"github.com/adaptrade/stabilizer/internal/config"
	"github.com/adaptrade/stabilizer/internal/feed"
	"github.com/adaptrade/stabilizer/internal/ledger"
	"github.com/adaptrade/stabilizer/internal/loop"
	"github.com/adaptrade/stabilizer/internal/monitor"
	"github.com/adaptrade/stabilizer/internal/notify"
	"github.com/adaptrade/stabilizer/internal/optimizer"
	"github.com/adaptrade/stabilizer/internal/perf"
	"github.com/adaptrade/stabilizer/internal/strategy"
)

// sessionState adapts a running loop session to the API layer.
type sessionState struct {
	session *loop.Session
	mode    string
}

func (s *sessionState) Running() bool           { return s.session.Status().Running }
func (s *sessionState) TradingMode() string     { return s.mode }
func (s *sessionState) FeedTier() string        { return s.session.Status().FeedTier }
func (s *sessionState) Balance() float64        { return s.session.Status().Balance }
func (s *sessionState) RiskPerTrade() float64   { return s.session.Status().RiskPerTrade }
func (s *sessionState) StrategyVersion() string { return s.session.Status().StrategyVersion }
func (s *sessionState) Metrics() perf.Metrics   { return s.session.Status().Metrics }

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	modeOverride := flag.String("mode", "", "override trading mode: paper|live")
	sessionLabel := flag.String("session", "", "session label set by the sequencer")
	duration := flag.Duration("duration", 0, "optional wall-clock budget, 0 runs until signalled")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Warn().Err(err).Str("path", *cfgPath).Msg("config file not loaded, using defaults")
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if v := strings.ToLower(strings.TrimSpace(*modeOverride)); v != "" {
		cfg.TradingMode = v
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.LogLevel)

	log.Info().
		Str("mode", cfg.TradingMode).
		Str("session", *sessionLabel).
		Strs("symbols", cfg.Symbols).
		Str("feed_mode", cfg.Feed.Mode).
		Float64("balance", cfg.Ledger.StartingBalance).
		Msg("trader starting")

	registry, err := strategy.NewRegistry(cfg.StrategyArtifact)
	if err != nil {
		log.Fatal().Err(err).Msg("strategy registry")
	}
	tracker, err := perf.New(perf.Config{EquityWindow: cfg.Perf.EquityWindow, DataDir: cfg.DataDir})
	if err != nil {
		log.Fatal().Err(err).Msg("performance tracker")
	}

	mktFeed := feed.New(feed.Config{
		Symbols:        cfg.Symbols,
		Mode:           cfg.Feed.Mode,
		PushURL:        cfg.Feed.PushURL,
		PullURL:        cfg.Feed.PullURL,
		PollInterval:   cfg.Feed.PollInterval,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		MaxNoDataWS:    cfg.Feed.MaxNoDataWS,
		MaxNoDataREST:  cfg.Feed.MaxNoDataREST,
		Sim: feed.SimConfig{
			Model:      cfg.Feed.Sim.Model,
			Seed:       cfg.Feed.Sim.Seed,
			StartPrice: cfg.Feed.Sim.StartPrice,
			Drift:      cfg.Feed.Sim.Drift,
			Volatility: cfg.Feed.Sim.Volatility,
			Dt:         cfg.Feed.Sim.Dt,
			WalkStep:   cfg.Feed.Sim.WalkStep,
			WalkMin:    cfg.Feed.Sim.WalkMin,
			WalkMax:    cfg.Feed.Sim.WalkMax,
		},
	})

	var notifier loop.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	session := loop.NewSession(loop.Config{
		TradingMode:        cfg.TradingMode,
		ConfirmationFile:   cfg.ConfirmationFile,
		SessionRoot:        cfg.DataDir + "/sessions",
		MaxTicks:           cfg.Loop.MaxTicks,
		ReportEveryTrades:  cfg.Loop.ReportEveryTrades,
		SymmetryWindow:     cfg.Loop.SymmetryWindow,
		SymmetryMinSamples: cfg.Loop.SymmetryMinSamples,
		SymmetryMaxGap:     cfg.Loop.SymmetryMaxGap,
		RatchetDrawdownPct: cfg.Loop.RatchetDrawdownPct,
		RatchetFactor:      cfg.Loop.RatchetFactor,
		RiskFloorPct:       cfg.Loop.RiskFloorPct,
		VolWindow:          cfg.Loop.VolWindow,
		WarmupCandles:      cfg.Loop.WarmupCandles,
		Reopt: loop.ReoptConfig{
			MinTrades:         cfg.Loop.Reopt.MinTrades,
			MinTicks:          cfg.Loop.Reopt.MinTicks,
			MinInterval:       cfg.Loop.Reopt.MinInterval,
			ProfitThreshold:   cfg.Loop.Reopt.ProfitThreshold,
			DrawdownThreshold: cfg.Loop.Reopt.DrawdownThreshold,
			VolatilityTrigger: cfg.Loop.Reopt.VolatilityTrigger,
		},
	}, loop.Deps{
		Symbols: cfg.Symbols,
		Feed:    mktFeed,
		Ledger: ledger.New(ledger.Config{
			StartingBalance: cfg.Ledger.StartingBalance,
			FeePct:          cfg.Ledger.FeePct,
			SlippagePct:     cfg.Ledger.SlippagePct,
			RiskPerTradePct: cfg.Ledger.RiskPerTradePct,
			Leverage:        cfg.Ledger.Leverage,
			MaxLossPerTrade: cfg.Ledger.MaxLossPerTrade,
			DailyLossLimit:  cfg.Ledger.DailyLossLimit,
		}),
		Tracker: tracker,
		Monitor: monitor.New(monitor.Config{
			Interval:     cfg.Monitor.Interval,
			MaxCPUPct:    cfg.Monitor.MaxCPUPct,
			MaxRAMPct:    cfg.Monitor.MaxRAMPct,
			ProbeAddr:    cfg.Monitor.ProbeAddr,
			ProbeTimeout: cfg.Monitor.ProbeTimeout,
		}),
		Registry: registry,
		Runner: optimizer.New(optimizer.Config{
			Command:         cfg.Optimizer.Command,
			Timeout:         cfg.Optimizer.Timeout,
			Trials:          cfg.Optimizer.Trials,
			VerifierCommand: verifierCommand(cfg),
		}),
		Notifier: notifier,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
		cancel()
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Addr, &sessionState{session: session, mode: cfg.TradingMode})
		if err := apiServer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("api server")
		}
	}

	if err := session.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("session pre-flight failed")
	}
	res := session.Run(ctx)

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = apiServer.Shutdown(shutdownCtx)
	}

	if res.Cause == loop.StopCooldown {
		os.Exit(2)
	}
}

// verifierCommand disables the pre-flight verifier unless opted in.
func verifierCommand(cfg config.Config) string {
	if !cfg.Optimizer.VerifyOnStart {
		return ""
	}
	return cfg.Optimizer.VerifierCommand
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
