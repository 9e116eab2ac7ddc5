// Package loop runs one trading session as a per-tick state machine:
// INIT -> RUNNING -> stop -> SHUTDOWN. It consumes the market feed, gates
// signals through the symmetry guard and the resource monitor, executes
// through the ledger, and triggers debounced re-optimization.
package loop

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adaptrade/stabilizer/internal/feed"
	"github.com/adaptrade/stabilizer/internal/ledger"
	"github.com/adaptrade/stabilizer/internal/obs"
	"github.com/adaptrade/stabilizer/internal/optimizer"
	"github.com/adaptrade/stabilizer/internal/perf"
	"github.com/adaptrade/stabilizer/internal/strategy"
)

// StopCause records why a running session ended.
type StopCause string

const (
	StopCooldown   StopCause = "cooldown"
	StopMaxTicks   StopCause = "max_ticks"
	StopInterrupt  StopCause = "interrupt"
	StopFeedClosed StopCause = "feed_closed"
)

type Config struct {
	TradingMode      string // paper | live
	ConfirmationFile string
	SessionRoot      string

	MaxTicks           int
	ReportEveryTrades  int
	SymmetryWindow     int
	SymmetryMinSamples int
	SymmetryMaxGap     float64
	RatchetDrawdownPct float64
	RatchetFactor      float64
	RiskFloorPct       float64
	VolWindow          int
	WarmupCandles      int

	Reopt ReoptConfig
}

// ReoptConfig is the debounce for re-optimization: every minimum must clear
// and at least one trigger predicate must hold before a run fires.
type ReoptConfig struct {
	MinTrades         int
	MinTicks          int
	MinInterval       time.Duration
	ProfitThreshold   float64
	DrawdownThreshold float64
	VolatilityTrigger float64
}

// TickSource is the feed surface the session consumes.
type TickSource interface {
	Ticks() <-chan feed.Tick
	Close()
	Tier() feed.Tier
	Backfill(ctx context.Context, symbol string, limit int) ([]feed.Candle, error)
}

// CooldownSource is the resource monitor surface consulted before each tick.
type CooldownSource interface {
	Start()
	Stop()
	ShouldCooldown() bool
}

// Notifier delivers operator alerts. All methods are best-effort.
type Notifier interface {
	NotifyCooldown(ctx context.Context) error
	NotifySessionEnd(ctx context.Context, cause string, profit float64, trades int) error
}

// Result summarizes one finished session.
type Result struct {
	Cause      StopCause
	Ticks      int
	Trades     int
	Metrics    perf.Metrics
	FinalRisk  float64
	SessionDir string
}

type Session struct {
	cfg      Config
	symbols  []string
	feed     TickSource
	ledger   *ledger.Ledger
	tracker  *perf.Tracker
	monitor  CooldownSource
	registry *strategy.Registry
	runner   *optimizer.Runner
	notifier Notifier

	startBalance float64
	sides        []ledger.Side
	ticks        int

	lastReoptTick   int
	lastReoptTrades int
	lastReoptTime   time.Time

	// status is the only session state other goroutines may read.
	status atomic.Pointer[Status]
}

// Status is a point-in-time snapshot published for the status API. The
// ledger and tracker themselves stay owned by the loop goroutine.
type Status struct {
	Running         bool
	FeedTier        string
	Balance         float64
	RiskPerTrade    float64
	StrategyVersion string
	Metrics         perf.Metrics
}

// Deps carries the session's collaborators. Notifier may be nil.
type Deps struct {
	Symbols  []string
	Feed     TickSource
	Ledger   *ledger.Ledger
	Tracker  *perf.Tracker
	Monitor  CooldownSource
	Registry *strategy.Registry
	Runner   *optimizer.Runner
	Notifier Notifier
}

func NewSession(cfg Config, deps Deps) *Session {
	return &Session{
		cfg:           cfg,
		symbols:       deps.Symbols,
		feed:          deps.Feed,
		ledger:        deps.Ledger,
		tracker:       deps.Tracker,
		monitor:       deps.Monitor,
		registry:      deps.Registry,
		runner:        deps.Runner,
		notifier:      deps.Notifier,
		startBalance:  deps.Ledger.Balance(),
		lastReoptTime: time.Now().UTC(),
	}
}

// Init performs the pre-flight checks: the strategy artifact must exist, the
// optional walk-forward verification runs (non-fatal), live trading requires
// the operator-authored confirmation file, and price windows are warmed from
// historical candles.
func (s *Session) Init(ctx context.Context) error {
	if _, err := os.Stat(s.registry.Path()); err != nil {
		return fmt.Errorf("loop: strategy artifact missing: %w", err)
	}

	if res := s.runner.Verify(ctx, s.registry.Path()); !res.Skipped && !res.Ok() {
		log.Warn().Int("exit_code", res.ExitCode).Msg("pre-flight verification failed, continuing")
	}

	if s.cfg.TradingMode == "live" {
		if _, err := os.Stat(s.cfg.ConfirmationFile); err != nil {
			return fmt.Errorf("loop: live mode requires confirmation file %s: %w", s.cfg.ConfirmationFile, err)
		}
		log.Warn().Str("file", s.cfg.ConfirmationFile).Msg("live trading confirmed by operator")
	}

	if s.cfg.WarmupCandles > 0 {
		active := s.registry.Active()
		for _, sym := range s.symbols {
			candles, err := s.feed.Backfill(ctx, sym, s.cfg.WarmupCandles)
			if err != nil {
				log.Warn().Err(err).Str("symbol", sym).Msg("warmup backfill failed")
				continue
			}
			active.Warm(sym, candles)
			log.Debug().Str("symbol", sym).Int("candles", len(candles)).Msg("price window warmed")
		}
	}
	return nil
}

// Run consumes ticks until a stop cause occurs, then shuts down and returns
// the session result.
func (s *Session) Run(ctx context.Context) Result {
	s.monitor.Start()
	s.publishStatus(true)
	ticks := s.feed.Ticks()

	var cause StopCause
running:
	for {
		select {
		case <-ctx.Done():
			cause = StopInterrupt
			break running
		case tick, ok := <-ticks:
			if !ok {
				cause = StopFeedClosed
				break running
			}
			if c := s.handleTick(ctx, tick); c != "" {
				cause = c
				break running
			}
		}
	}
	return s.shutdown(ctx, cause)
}

// handleTick processes one tick and returns a non-empty StopCause when the
// session must end.
func (s *Session) handleTick(ctx context.Context, tick feed.Tick) StopCause {
	s.ticks++
	obs.IncTick(string(s.feed.Tier()))

	if s.monitor.ShouldCooldown() {
		log.Warn().Msg("resource cooldown raised, stopping session")
		if s.notifier != nil {
			_ = s.notifier.NotifyCooldown(ctx)
		}
		return StopCooldown
	}

	sig := s.registry.Active().Signal(tick, s.ledger.State())
	obs.IncSignal(string(sig))
	sig = s.applySymmetry(sig)

	if sig != strategy.Hold {
		s.execute(tick, sig)
	}

	s.maybeReoptimize(ctx)
	s.publishStatus(true)

	if s.cfg.MaxTicks > 0 && s.ticks >= s.cfg.MaxTicks {
		return StopMaxTicks
	}
	return ""
}

// Status returns the latest published snapshot. Safe for any goroutine.
func (s *Session) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

func (s *Session) publishStatus(running bool) {
	s.status.Store(&Status{
		Running:         running,
		FeedTier:        string(s.feed.Tier()),
		Balance:         s.ledger.Balance(),
		RiskPerTrade:    s.ledger.RiskPerTrade(),
		StrategyVersion: s.registry.Version(),
		Metrics:         s.tracker.Compute(),
	})
}

// applySymmetry downgrades a signal to HOLD when it matches the side already
// over-represented in the rolling window of executed orders.
func (s *Session) applySymmetry(sig strategy.Signal) strategy.Signal {
	if sig == strategy.Hold || len(s.sides) < s.cfg.SymmetryMinSamples {
		return sig
	}
	buys := 0
	for _, side := range s.sides {
		if side == ledger.Buy {
			buys++
		}
	}
	sells := len(s.sides) - buys
	gap := math.Abs(float64(buys-sells)) / float64(len(s.sides))
	if gap <= s.cfg.SymmetryMaxGap {
		return sig
	}

	over := ledger.Buy
	if sells > buys {
		over = ledger.Sell
	}
	if string(sig) != string(over) {
		return sig
	}

	obs.IncSymmetryHold()
	log.Info().
		Str("signal", string(sig)).
		Int("buys", buys).
		Int("sells", sells).
		Float64("gap", gap).
		Msg("symmetry guard downgraded signal to hold")
	return strategy.Hold
}

// execute submits a non-HOLD signal to the ledger and records acceptance.
func (s *Session) execute(tick feed.Tick, sig strategy.Signal) {
	order, reject := s.ledger.Execute(tick.Symbol, ledger.Side(sig), tick.Price, tick.Time)
	if reject != ledger.RejectNone {
		obs.IncRejection(string(reject))
		log.Debug().
			Str("symbol", tick.Symbol).
			Str("side", string(sig)).
			Str("reason", string(reject)).
			Msg("order rejected")
		return
	}

	obs.IncOrder(string(order.Side))
	s.tracker.RecordTrade(*order)
	s.sides = append(s.sides, order.Side)
	if len(s.sides) > s.cfg.SymmetryWindow {
		s.sides = s.sides[1:]
	}
	log.Info().
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Float64("fill", order.FillPrice).
		Float64("quantity", order.Quantity).
		Float64("pnl", order.RealizedPnL).
		Msg("order executed")

	if s.cfg.ReportEveryTrades > 0 && s.tracker.Trades()%s.cfg.ReportEveryTrades == 0 {
		s.report()
	}
}

// report logs current metrics and applies the de-risking ratchet. The ratchet
// only ever reduces risk within a session; restoring it takes a new session.
func (s *Session) report() {
	m := s.tracker.Compute()
	log.Info().
		Int("trades", m.Trades).
		Float64("profit", m.TotalProfit).
		Float64("max_drawdown", m.MaxDrawdown).
		Float64("winrate_pct", m.WinratePct).
		Float64("sharpe", m.Sharpe).
		Msg("session checkpoint")

	dd := s.relativeDrawdown()
	if dd <= s.cfg.RatchetDrawdownPct {
		return
	}
	risk := s.ledger.RiskPerTrade() * s.cfg.RatchetFactor
	if risk < s.cfg.RiskFloorPct {
		risk = s.cfg.RiskFloorPct
	}
	if risk >= s.ledger.RiskPerTrade() {
		return
	}
	s.ledger.SetRiskPerTrade(risk)
	obs.SetRiskPerTrade(risk)
	log.Warn().
		Float64("drawdown", dd).
		Float64("risk_per_trade_pct", risk).
		Msg("drawdown ratchet reduced per-trade risk")
}

// relativeDrawdown measures equity decline against the session's starting
// balance. Open positions count at cost so an in-flight BUY is not a loss.
func (s *Session) relativeDrawdown() float64 {
	st := s.ledger.State()
	equity := st.Balance
	for _, pos := range st.Positions {
		equity += pos.Quantity*pos.EntryPrice + pos.EntryFee
	}
	if s.startBalance <= 0 {
		return 0
	}
	dd := (s.startBalance - equity) / s.startBalance
	if dd < 0 {
		return 0
	}
	return dd
}

// maybeReoptimize fires the external optimizer when every debounce minimum
// clears and a trigger predicate holds, then atomically reloads the strategy.
func (s *Session) maybeReoptimize(ctx context.Context) {
	r := s.cfg.Reopt
	if s.tracker.Trades()-s.lastReoptTrades < r.MinTrades {
		return
	}
	if s.ticks-s.lastReoptTick < r.MinTicks {
		return
	}
	if time.Since(s.lastReoptTime) < r.MinInterval {
		return
	}

	lowProfit := s.tracker.TotalProfit() < r.ProfitThreshold
	highDrawdown := s.relativeDrawdown() > r.DrawdownThreshold
	highVol := r.VolatilityTrigger > 0 && s.tracker.RecentVolatility(s.cfg.VolWindow) > r.VolatilityTrigger
	if !lowProfit && !highDrawdown && !highVol {
		return
	}

	s.lastReoptTrades = s.tracker.Trades()
	s.lastReoptTick = s.ticks
	s.lastReoptTime = time.Now().UTC()
	obs.IncReoptimization()
	log.Info().
		Bool("low_profit", lowProfit).
		Bool("high_drawdown", highDrawdown).
		Bool("high_volatility", highVol).
		Msg("re-optimization triggered")

	res := s.runner.Optimize(ctx, s.tracker.TradeLogPath(), s.runner.Trials())
	if res.Skipped {
		return
	}
	if err := s.registry.Reload(); err != nil {
		log.Error().Err(err).Msg("strategy reload failed, keeping previous parameters")
	}
}

// shutdown flushes artifacts into a timestamped session directory and stops
// the collaborators.
func (s *Session) shutdown(ctx context.Context, cause StopCause) Result {
	m := s.tracker.Compute()
	s.publishStatus(false)
	dir := s.sessionDir()
	if err := s.tracker.WriteSessionArtifacts(dir); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("session artifact write failed")
	}
	if err := s.tracker.Close(); err != nil {
		log.Error().Err(err).Msg("trade log close failed")
	}
	s.feed.Close()
	s.monitor.Stop()

	if s.notifier != nil {
		_ = s.notifier.NotifySessionEnd(ctx, string(cause), m.TotalProfit, m.Trades)
	}
	log.Info().
		Str("cause", string(cause)).
		Int("ticks", s.ticks).
		Int("trades", m.Trades).
		Float64("profit", m.TotalProfit).
		Str("dir", dir).
		Msg("session finished")

	return Result{
		Cause:      cause,
		Ticks:      s.ticks,
		Trades:     m.Trades,
		Metrics:    m,
		FinalRisk:  s.ledger.RiskPerTrade(),
		SessionDir: dir,
	}
}

func (s *Session) sessionDir() string {
	root := s.cfg.SessionRoot
	if root == "" {
		root = "sessions"
	}
	return fmt.Sprintf("%s/session-%s", root, time.Now().UTC().Format("20060102-150405"))
}
