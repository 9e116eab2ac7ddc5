package perf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adaptrade/stabilizer/internal/ledger"
)

func newTracker(t *testing.T, window int) *Tracker {
	t.Helper()
	tr, err := New(Config{EquityWindow: window, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func sell(pnl float64) ledger.Order {
	return ledger.Order{
		ID:          "t",
		Symbol:      "BTC-USD",
		Side:        ledger.Sell,
		FillPrice:   100,
		Quantity:    1,
		RealizedPnL: pnl,
		Timestamp:   time.Now().UTC(),
	}
}

func TestMetricsGuardedBelowTwoSamples(t *testing.T) {
	tr := newTracker(t, 10)
	m := tr.Compute()
	if m.Sharpe != 0 || m.Sortino != 0 || m.MaxDrawdown != 0 {
		t.Fatalf("empty tracker metrics must be zero, got %+v", m)
	}

	tr.RecordTrade(sell(5))
	m = tr.Compute()
	if m.Sharpe != 0 || m.Sortino != 0 {
		t.Fatalf("single sample must not produce ratios, got %+v", m)
	}
	if m.TotalProfit != 5 {
		t.Fatalf("total profit = %f, want 5", m.TotalProfit)
	}
}

func TestZeroStdevGuard(t *testing.T) {
	tr := newTracker(t, 10)
	// Identical gains give zero return variance.
	for i := 0; i < 5; i++ {
		tr.RecordTrade(sell(2))
	}
	m := tr.Compute()
	if m.Sharpe != 0 || m.Sortino != 0 {
		t.Fatalf("zero stdev must yield zero ratios, got sharpe=%f sortino=%f", m.Sharpe, m.Sortino)
	}
	if m.WinratePct != 100 {
		t.Fatalf("winrate = %f, want 100", m.WinratePct)
	}
}

func TestDrawdownIsPeakToTrough(t *testing.T) {
	tr := newTracker(t, 10)
	for _, pnl := range []float64{10, 10, -15, -5, 30} {
		tr.RecordTrade(sell(pnl))
	}
	// Equity path: 10, 20, 5, 0, 30. Peak 20, trough 0.
	m := tr.Compute()
	if m.MaxDrawdown != 20 {
		t.Fatalf("max drawdown = %f, want 20", m.MaxDrawdown)
	}
}

func TestEquityWindowEvictsOldest(t *testing.T) {
	tr := newTracker(t, 3)
	for _, pnl := range []float64{100, -200, 1, 1, 1} {
		tr.RecordTrade(sell(pnl))
	}
	// Window holds the last 3 samples: -99, -98, -97. The early crash is gone.
	m := tr.Compute()
	if m.MaxDrawdown != 0 {
		t.Fatalf("evicted drawdown leaked into window: %f", m.MaxDrawdown)
	}
}

func TestHoldsAndBuysDoNotMoveEquity(t *testing.T) {
	tr := newTracker(t, 10)
	buy := sell(0)
	buy.Side = ledger.Buy
	tr.RecordTrade(buy)
	if tr.TotalProfit() != 0 {
		t.Fatalf("buy moved equity: %f", tr.TotalProfit())
	}
	if tr.Trades() != 1 {
		t.Fatalf("trades = %d, want 1", tr.Trades())
	}
}

func TestTradeLogAppendsEveryOrder(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(Config{EquityWindow: 10, DataDir: dir})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	buy := sell(0)
	buy.Side = ledger.Buy
	tr.RecordTrade(buy)
	tr.RecordTrade(sell(3))
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "trades.csv"))
	if err != nil {
		t.Fatalf("read trade log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,") {
		t.Fatalf("missing header: %q", lines[0])
	}

	// Reopening must append, not truncate or re-write the header.
	tr2, err := New(Config{EquityWindow: 10, DataDir: dir})
	if err != nil {
		t.Fatalf("reopen tracker: %v", err)
	}
	tr2.RecordTrade(sell(1))
	tr2.Close()
	raw, _ = os.ReadFile(filepath.Join(dir, "trades.csv"))
	lines = strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines after reopen, got %d", len(lines))
	}
}

func TestFlushWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(Config{EquityWindow: 10, DataDir: dir})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	defer tr.Close()
	tr.RecordTrade(sell(7))
	if err := tr.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "metrics.json"))
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	var m Metrics
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal metrics: %v", err)
	}
	if m.TotalProfit != 7 {
		t.Fatalf("snapshot profit = %f, want 7", m.TotalProfit)
	}
	if _, err := os.Stat(filepath.Join(dir, "equity.csv")); err != nil {
		t.Fatalf("equity series missing: %v", err)
	}
}

func TestWriteSessionArtifacts(t *testing.T) {
	tr := newTracker(t, 10)
	tr.RecordTrade(sell(4))
	session := filepath.Join(t.TempDir(), "session-1")
	if err := tr.WriteSessionArtifacts(session); err != nil {
		t.Fatalf("session artifacts: %v", err)
	}
	for _, name := range []string{"trades.csv", "metrics.json", "equity.csv"} {
		if _, err := os.Stat(filepath.Join(session, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}
