// Package sequencer drives repeated trading sessions toward convergence. Each
// cycle trades, cools down, re-optimizes, validates, and is evaluated against
// fixed thresholds; enough consecutive clean cycles lock the parameters,
// persistent failure triggers corrective configuration and, in the worst
// case, an emergency snapshot for manual recovery.
package sequencer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adaptrade/stabilizer/internal/config"
	"github.com/adaptrade/stabilizer/internal/optimizer"
	"github.com/adaptrade/stabilizer/internal/perf"
	"github.com/adaptrade/stabilizer/internal/strategy"
)

// Thresholds is the pass/fail bar applied to every cycle.
type Thresholds struct {
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	MinSharpe      float64 `json:"min_sharpe"`
	MinWinratePct  float64 `json:"min_winrate_pct"`
}

// Tolerance is the dead band used by the imbalance check; metric moves inside
// it count as unchanged.
type Tolerance struct {
	PnL      float64 `json:"pnl"`
	Drawdown float64 `json:"drawdown"` // fraction of starting balance
	Winrate  float64 `json:"winrate"`  // percentage points
	Sharpe   float64 `json:"sharpe"`
}

// CycleRecord is the immutable outcome of one stabilization cycle.
type CycleRecord struct {
	Cycle       int          `json:"cycle"`
	Metrics     perf.Metrics `json:"metrics"`
	DrawdownPct float64      `json:"drawdown_pct"`
	Thresholds  Thresholds   `json:"thresholds"`
	Passed      bool         `json:"passed"`
	Imbalanced  bool         `json:"imbalanced"`
	FinishedAt  string       `json:"finished_at"`
}

// LockArtifact marks parameters as converged; nothing auto-mutates them past
// this point.
type LockArtifact struct {
	Timestamp       string       `json:"timestamp"`
	Metrics         perf.Metrics `json:"metrics"`
	Thresholds      Thresholds   `json:"thresholds"`
	StrategyVersion string       `json:"strategy_version"`
	ArtifactPath    string       `json:"artifact_path"`
	Cycles          int          `json:"cycles"`
}

// Notifier delivers sequencer alerts. All methods are best-effort.
type Notifier interface {
	NotifyLock(ctx context.Context, cycles int, profit float64) error
	NotifyRollback(ctx context.Context, cycle int, dir string) error
}

type Sequencer struct {
	cfg        config.Config
	supervisor Supervisor
	runner     *optimizer.Runner
	notifier   Notifier

	history []CycleRecord
	streak  int
}

// Supervisor runs one trading session end to end under a wall-clock budget.
type Supervisor interface {
	RunSession(ctx context.Context, cfgPath string, duration time.Duration, label string) SessionOutcome
}

func New(cfg config.Config, supervisor Supervisor, runner *optimizer.Runner, notifier Notifier) *Sequencer {
	return &Sequencer{
		cfg:        cfg,
		supervisor: supervisor,
		runner:     runner,
		notifier:   notifier,
	}
}

// Run executes stabilization cycles until convergence or the cycle budget is
// exhausted. It returns true when a Lock Artifact was written.
func (s *Sequencer) Run(ctx context.Context) (bool, error) {
	cur := s.cfg
	for cycle := 1; cycle <= cur.Cycle.MaxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		log.Info().Int("cycle", cycle).Int("streak", s.streak).Msg("stabilization cycle starting")

		cfgPath, err := s.writeConfig(cur, fmt.Sprintf("cycle-%d.yaml", cycle))
		if err != nil {
			return false, err
		}

		trade := s.supervisor.RunSession(ctx, cfgPath, cur.Cycle.SessionDuration, fmt.Sprintf("cycle-%d-trade", cycle))
		if !trade.Started {
			return false, fmt.Errorf("sequencer: trade session failed to start: %v", trade.Err)
		}

		sleepCtx(ctx, cur.Cycle.CooldownSleep)

		tradeLog := filepath.Join(cur.DataDir, "trades.csv")
		s.runner.Optimize(ctx, tradeLog, s.runner.Trials())

		validate := s.supervisor.RunSession(ctx, cfgPath, cur.Cycle.ValidationDuration, fmt.Sprintf("cycle-%d-validate", cycle))
		if !validate.Started {
			return false, fmt.Errorf("sequencer: validation session failed to start: %v", validate.Err)
		}

		metrics, err := s.readMetrics(cur.DataDir)
		if err != nil {
			return false, err
		}

		rec := s.evaluateCycle(cycle, metrics, cur)
		locked, err := s.record(ctx, rec)
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}

		if s.catastrophic(rec) {
			s.emergencySnapshot(ctx, rec.Cycle)
		}
		cur = config.Corrective(cur)
		if _, err := s.writeConfig(cur, fmt.Sprintf("corrective-%d.yaml", cycle)); err != nil {
			log.Error().Err(err).Msg("corrective config persist failed")
		}
		log.Info().
			Int("cycle", cycle).
			Float64("risk_per_trade_pct", cur.Ledger.RiskPerTradePct).
			Float64("max_loss_per_trade", cur.Ledger.MaxLossPerTrade).
			Int("trials", cur.Optimizer.Trials).
			Msg("corrective configuration applied")
	}
	return false, nil
}

// evaluateCycle builds the cycle record from realized metrics.
func (s *Sequencer) evaluateCycle(cycle int, m perf.Metrics, cur config.Config) CycleRecord {
	th := Thresholds{
		MaxDrawdownPct: cur.Cycle.MaxDrawdownPct,
		MinSharpe:      cur.Cycle.MinSharpe,
		MinWinratePct:  cur.Cycle.MinWinratePct,
	}
	ddPct := 0.0
	if b := cur.Ledger.StartingBalance; b > 0 {
		ddPct = m.MaxDrawdown / b
	}
	rec := CycleRecord{
		Cycle:       cycle,
		Metrics:     m,
		DrawdownPct: ddPct,
		Thresholds:  th,
		Passed:      passed(m, ddPct, th),
		FinishedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if len(s.history) > 0 {
		rec.Imbalanced = imbalanced(s.history[len(s.history)-1], rec, s.tolerance())
	}
	return rec
}

// record appends the cycle to the history, updates the convergence streak and
// writes the lock artifact once the streak reaches the required length. An
// imbalanced-but-passed cycle resets the streak: single-metric gains that
// cost other metrics are not progress toward stability.
func (s *Sequencer) record(ctx context.Context, rec CycleRecord) (bool, error) {
	s.history = append(s.history, rec)
	if rec.Passed && !rec.Imbalanced {
		s.streak++
	} else {
		s.streak = 0
	}
	log.Info().
		Int("cycle", rec.Cycle).
		Bool("passed", rec.Passed).
		Bool("imbalanced", rec.Imbalanced).
		Int("streak", s.streak).
		Msg("cycle evaluated")

	if err := s.writeReport(false); err != nil {
		return false, err
	}
	if s.streak < s.cfg.Cycle.RequiredConsec {
		return false, nil
	}
	if err := s.writeLock(rec); err != nil {
		return false, err
	}
	if err := s.writeReport(true); err != nil {
		return false, err
	}
	if s.notifier != nil {
		_ = s.notifier.NotifyLock(ctx, rec.Cycle, rec.Metrics.TotalProfit)
	}
	return true, nil
}

// passed applies the conjunction of all cycle thresholds.
func passed(m perf.Metrics, ddPct float64, th Thresholds) bool {
	return ddPct <= th.MaxDrawdownPct &&
		m.Sharpe >= th.MinSharpe &&
		m.WinratePct >= th.MinWinratePct &&
		m.TotalProfit > 0
}

// imbalanced reports whether, relative to the previous cycle, at least one
// metric improved beyond its tolerance while another degraded beyond its
// tolerance.
func imbalanced(prev, cur CycleRecord, tol Tolerance) bool {
	// Positive delta = improvement for every entry.
	deltas := []struct{ delta, tol float64 }{
		{cur.Metrics.TotalProfit - prev.Metrics.TotalProfit, tol.PnL},
		{prev.DrawdownPct - cur.DrawdownPct, tol.Drawdown},
		{cur.Metrics.WinratePct - prev.Metrics.WinratePct, tol.Winrate},
		{cur.Metrics.Sharpe - prev.Metrics.Sharpe, tol.Sharpe},
	}
	improved, degraded := false, false
	for _, d := range deltas {
		if d.delta > d.tol {
			improved = true
		}
		if d.delta < -d.tol {
			degraded = true
		}
	}
	return improved && degraded
}

// catastrophic marks a cycle that fails hard even after correction had its
// chance: drawdown at or past the limit, or Sharpe below the floor.
func (s *Sequencer) catastrophic(rec CycleRecord) bool {
	return rec.DrawdownPct >= rec.Thresholds.MaxDrawdownPct || rec.Metrics.Sharpe < rec.Thresholds.MinSharpe
}

// emergencySnapshot copies the strategy artifact and model files into a
// timestamped directory before the next cycle can overwrite them. A safety
// net for manual recovery, not a recovery action itself.
func (s *Sequencer) emergencySnapshot(ctx context.Context, cycle int) {
	dir := filepath.Join(s.cfg.DataDir, fmt.Sprintf("emergency-%s", time.Now().UTC().Format("20060102-150405")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("emergency snapshot dir failed")
		return
	}
	if err := copyInto(s.cfg.StrategyArtifact, dir); err != nil {
		log.Error().Err(err).Msg("emergency snapshot of strategy artifact failed")
	}
	if err := copyTree(s.cfg.ModelDir, filepath.Join(dir, "models")); err != nil {
		log.Error().Err(err).Msg("emergency snapshot of model dir failed")
	}
	log.Warn().Int("cycle", cycle).Str("dir", dir).Msg("emergency snapshot written")
	if s.notifier != nil {
		_ = s.notifier.NotifyRollback(ctx, cycle, dir)
	}
}

// tolerance maps the configuration dead bands onto the imbalance check.
func (s *Sequencer) tolerance() Tolerance {
	return Tolerance{
		PnL:      s.cfg.Cycle.TolerancePnL,
		Drawdown: s.cfg.Cycle.ToleranceDrawdown,
		Winrate:  s.cfg.Cycle.ToleranceWinrate,
		Sharpe:   s.cfg.Cycle.ToleranceSharpe,
	}
}

type cycleReport struct {
	Stabilized bool          `json:"stabilized"`
	Cycles     []CycleRecord `json:"cycles"`
	Updated    string        `json:"updated"`
}

func (s *Sequencer) writeReport(stabilized bool) error {
	rep := cycleReport{
		Stabilized: stabilized,
		Cycles:     s.history,
		Updated:    time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("sequencer: marshal cycle report: %w", err)
	}
	path := filepath.Join(s.cfg.DataDir, "cycle_report.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("sequencer: write cycle report: %w", err)
	}
	return nil
}

func (s *Sequencer) writeLock(rec CycleRecord) error {
	version := ""
	if p, err := strategy.LoadParams(s.cfg.StrategyArtifact); err == nil {
		version = p.Version
	}
	lock := LockArtifact{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Metrics:         rec.Metrics,
		Thresholds:      rec.Thresholds,
		StrategyVersion: version,
		ArtifactPath:    s.cfg.StrategyArtifact,
		Cycles:          rec.Cycle,
	}
	raw, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("sequencer: marshal lock artifact: %w", err)
	}
	path := s.LockPath()
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("sequencer: write lock artifact: %w", err)
	}
	log.Info().Str("path", path).Int("cycles", rec.Cycle).Msg("parameters locked")
	return nil
}

// LockPath is where the lock artifact lands on convergence.
func (s *Sequencer) LockPath() string {
	return filepath.Join(s.cfg.DataDir, "LOCK.json")
}

// History returns the cycle records accumulated so far.
func (s *Sequencer) History() []CycleRecord { return s.history }

func (s *Sequencer) writeConfig(cfg config.Config, name string) (string, error) {
	path := filepath.Join(cfg.DataDir, name)
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("sequencer: create data dir: %w", err)
	}
	if err := cfg.WriteFile(path); err != nil {
		return "", fmt.Errorf("sequencer: persist cycle config: %w", err)
	}
	return path, nil
}

func (s *Sequencer) readMetrics(dataDir string) (perf.Metrics, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, "metrics.json"))
	if err != nil {
		return perf.Metrics{}, fmt.Errorf("sequencer: read session metrics: %w", err)
	}
	var m perf.Metrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return perf.Metrics{}, fmt.Errorf("sequencer: parse session metrics: %w", err)
	}
	return m, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func copyInto(src, dir string) error {
	return copyFile(src, filepath.Join(dir, filepath.Base(src)))
}

func copyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(from, to); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
