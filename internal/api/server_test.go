package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adaptrade/stabilizer/internal/perf"
)

type mockAppState struct {
	running         bool
	tradingMode     string
	feedTier        string
	balance         float64
	riskPerTrade    float64
	strategyVersion string
	metrics         perf.Metrics
}

func (m *mockAppState) Running() bool           { return m.running }
func (m *mockAppState) TradingMode() string     { return m.tradingMode }
func (m *mockAppState) FeedTier() string        { return m.feedTier }
func (m *mockAppState) Balance() float64        { return m.balance }
func (m *mockAppState) RiskPerTrade() float64   { return m.riskPerTrade }
func (m *mockAppState) StrategyVersion() string { return m.strategyVersion }
func (m *mockAppState) Metrics() perf.Metrics   { return m.metrics }

func TestHandleHealth(t *testing.T) {
	s := NewServer(":0", &mockAppState{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["ok"] != true {
		t.Fatalf("expected ok=true, got %v", resp["ok"])
	}
}

func TestHandleReadyNotRunning(t *testing.T) {
	s := NewServer(":0", &mockAppState{running: false, tradingMode: "paper"})
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()
	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	state := &mockAppState{
		running:         true,
		tradingMode:     "paper",
		feedTier:        "sim",
		balance:         10123.45,
		riskPerTrade:    0.007,
		strategyVersion: "v3",
		metrics:         perf.Metrics{Trades: 42, TotalProfit: 123.45},
	}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["feed_tier"] != "sim" {
		t.Fatalf("feed_tier = %v, want sim", resp["feed_tier"])
	}
	if resp["strategy_version"] != "v3" {
		t.Fatalf("strategy_version = %v, want v3", resp["strategy_version"])
	}
	if resp["trades"] != float64(42) {
		t.Fatalf("trades = %v, want 42", resp["trades"])
	}
}

func TestHandlePerf(t *testing.T) {
	state := &mockAppState{metrics: perf.Metrics{TotalProfit: 9.5, Sharpe: 1.1}}
	s := NewServer(":0", state)

	req := httptest.NewRequest(http.MethodGet, "/api/perf", nil)
	w := httptest.NewRecorder()
	s.handlePerf(w, req)

	var m perf.Metrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if m.TotalProfit != 9.5 || m.Sharpe != 1.1 {
		t.Fatalf("metrics mismatch: %+v", m)
	}
}
