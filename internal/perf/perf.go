// Package perf tracks realized performance for one trading session: a bounded
// equity window, win/loss counters, and a durable append-only trade log.
package perf

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adaptrade/stabilizer/internal/ledger"
	"github.com/adaptrade/stabilizer/internal/obs"
)

type Config struct {
	EquityWindow int
	DataDir      string
}

// Metrics is the snapshot produced by Compute. All fields derive from the
// current equity window and counters only.
type Metrics struct {
	TotalProfit float64 `json:"total_profit"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinratePct  float64 `json:"winrate_pct"`
	Sharpe      float64 `json:"sharpe"`
	Sortino     float64 `json:"sortino"`
	Turnover    float64 `json:"turnover"`
	Trades      int     `json:"trades"`
	GeneratedAt string  `json:"generated_at"`
}

// Tracker is owned by the control loop goroutine and is not safe for
// concurrent use.
type Tracker struct {
	cfg    Config
	equity []float64 // cumulative realized PnL, newest last
	total  float64
	trades int
	wins   int
	losses int

	logPath string
	logFile *os.File
	logW    *csv.Writer
}

// New creates the tracker and opens the trade log for appending. A header row
// is written only when the file is new.
func New(cfg Config) (*Tracker, error) {
	if cfg.EquityWindow <= 0 {
		return nil, fmt.Errorf("perf: equity window must be positive, got %d", cfg.EquityWindow)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("perf: create data dir: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "trades.csv")
	fresh := false
	if st, err := os.Stat(path); err != nil || st.Size() == 0 {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("perf: open trade log: %w", err)
	}
	t := &Tracker{
		cfg:     cfg,
		equity:  make([]float64, 0, cfg.EquityWindow),
		logPath: path,
		logFile: f,
		logW:    csv.NewWriter(f),
	}
	if fresh {
		if err := t.logW.Write([]string{"timestamp", "symbol", "side", "price", "quantity", "realized_pnl"}); err != nil {
			f.Close()
			return nil, fmt.Errorf("perf: write trade log header: %w", err)
		}
		t.logW.Flush()
	}
	return t, nil
}

// RecordTrade appends the order to the trade log and, for closing orders,
// folds the realized PnL into the equity window.
func (t *Tracker) RecordTrade(o ledger.Order) {
	t.trades++
	row := []string{
		o.Timestamp.UTC().Format(time.RFC3339),
		o.Symbol,
		string(o.Side),
		strconv.FormatFloat(o.FillPrice, 'f', -1, 64),
		strconv.FormatFloat(o.Quantity, 'f', -1, 64),
		strconv.FormatFloat(o.RealizedPnL, 'f', -1, 64),
	}
	if err := t.logW.Write(row); err != nil {
		log.Error().Err(err).Str("id", o.ID).Msg("trade log append failed")
	}
	t.logW.Flush()

	if o.Side != ledger.Sell || o.RealizedPnL == 0 {
		return
	}
	t.total += o.RealizedPnL
	if o.RealizedPnL > 0 {
		t.wins++
	} else {
		t.losses++
	}
	t.equity = append(t.equity, t.total)
	if len(t.equity) > t.cfg.EquityWindow {
		t.equity = t.equity[1:]
	}
	obs.SetEquity(t.total)
}

// Trades returns the number of orders recorded so far.
func (t *Tracker) Trades() int { return t.trades }

// TotalProfit returns cumulative realized PnL.
func (t *Tracker) TotalProfit() float64 { return t.total }

// TradeLogPath returns the durable trade log location for the optimizer.
func (t *Tracker) TradeLogPath() string { return t.logPath }

// RecentVolatility is the standard deviation of the last n window returns,
// used by the re-optimization trigger. Returns 0 with fewer than 2 returns.
func (t *Tracker) RecentVolatility(n int) float64 {
	rets := t.returns()
	if n > 0 && len(rets) > n {
		rets = rets[len(rets)-n:]
	}
	_, sd := meanStdev(rets)
	return sd
}

// Compute derives the metrics snapshot from the current window.
func (t *Tracker) Compute() Metrics {
	m := Metrics{
		TotalProfit: t.total,
		Trades:      t.trades,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	// Drawdown: running peak minus current, maximized over the window.
	peak := math.Inf(-1)
	for _, e := range t.equity {
		if e > peak {
			peak = e
		}
		if dd := peak - e; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	if n := t.wins + t.losses; n > 0 {
		m.WinratePct = 100 * float64(t.wins) / float64(n)
		m.Turnover = float64(n) / float64(t.cfg.EquityWindow)
	}

	rets := t.returns()
	if len(rets) < 2 {
		return m
	}
	mean, sd := meanStdev(rets)
	if sd > 0 {
		m.Sharpe = mean / sd * math.Sqrt(252)
	}

	var downside []float64
	for _, r := range rets {
		if r <= 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) >= 2 {
		if _, dsd := meanStdev(downside); dsd > 0 {
			m.Sortino = mean / dsd * math.Sqrt(252)
		}
	}
	return m
}

// Flush writes the metrics snapshot and the equity series to the data dir.
func (t *Tracker) Flush() error {
	m := t.Compute()
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("perf: marshal metrics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(t.cfg.DataDir, "metrics.json"), raw, 0o644); err != nil {
		return fmt.Errorf("perf: write metrics: %w", err)
	}
	var buf []byte
	buf = append(buf, "sample,equity\n"...)
	for i, e := range t.equity {
		buf = append(buf, fmt.Sprintf("%d,%s\n", i, strconv.FormatFloat(e, 'f', -1, 64))...)
	}
	if err := os.WriteFile(filepath.Join(t.cfg.DataDir, "equity.csv"), buf, 0o644); err != nil {
		return fmt.Errorf("perf: write equity series: %w", err)
	}
	return nil
}

// WriteSessionArtifacts copies the trade log and metrics snapshot into a
// per-session directory.
func (t *Tracker) WriteSessionArtifacts(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("perf: create session dir: %w", err)
	}
	if err := t.Flush(); err != nil {
		return err
	}
	for _, name := range []string{"trades.csv", "metrics.json", "equity.csv"} {
		if err := copyFile(filepath.Join(t.cfg.DataDir, name), filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("perf: copy %s: %w", name, err)
		}
	}
	return nil
}

// Close flushes and closes the trade log.
func (t *Tracker) Close() error {
	t.logW.Flush()
	if err := t.logW.Error(); err != nil {
		t.logFile.Close()
		return err
	}
	return t.logFile.Close()
}

// returns yields successive differences of the equity window.
func (t *Tracker) returns() []float64 {
	if len(t.equity) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(t.equity)-1)
	for i := 1; i < len(t.equity); i++ {
		rets = append(rets, t.equity[i]-t.equity[i-1])
	}
	return rets
}

func meanStdev(xs []float64) (mean, sd float64) {
	if len(xs) < 2 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	sd = math.Sqrt(sq / float64(len(xs)-1))
	return mean, sd
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
