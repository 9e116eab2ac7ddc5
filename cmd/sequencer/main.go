package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/adaptrade/stabilizer/internal/config"
	"github.com/adaptrade/stabilizer/internal/notify"
	"github.com/adaptrade/stabilizer/internal/optimizer"
	"github.com/adaptrade/stabilizer/internal/sequencer"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	traderCmd := flag.String("trader", "./trader", "trader executable run per session")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Warn().Err(err).Str("path", *cfgPath).Msg("config file not loaded, using defaults")
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.LogLevel)

	log.Info().
		Int("max_cycles", cfg.Cycle.MaxCycles).
		Int("required_consecutive", cfg.Cycle.RequiredConsec).
		Dur("session_duration", cfg.Cycle.SessionDuration).
		Dur("validation_duration", cfg.Cycle.ValidationDuration).
		Msg("sequencer starting")

	var notifier sequencer.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	seq := sequencer.New(
		cfg,
		&sequencer.ProcessSupervisor{TraderCmd: *traderCmd, Grace: cfg.Loop.ShutdownGrace},
		optimizer.New(optimizer.Config{
			Command: cfg.Optimizer.Command,
			Timeout: cfg.Optimizer.Timeout,
			Trials:  cfg.Optimizer.Trials,
		}),
		notifier,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
		cancel()
	}()

	stabilized, err := seq.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("sequencer failed")
	}
	if !stabilized {
		log.Warn().Int("cycles", len(seq.History())).Msg("cycle budget exhausted without convergence")
		os.Exit(1)
	}
	log.Info().Str("lock", seq.LockPath()).Msg("stabilization complete")
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
