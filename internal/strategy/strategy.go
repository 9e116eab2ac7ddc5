// Package strategy holds the pluggable signal source. Parameters live in a
// versioned artifact on disk; the registry swaps the active implementation
// wholesale after each optimizer run.
package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/adaptrade/stabilizer/internal/feed"
	"github.com/adaptrade/stabilizer/internal/ledger"
)

type Signal string

const (
	Hold Signal = "HOLD"
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
)

// Strategy produces one trading decision per tick given the current ledger
// snapshot.
type Strategy interface {
	Signal(t feed.Tick, st ledger.State) Signal
}

// Params is the optimizer's output artifact.
type Params struct {
	Version          string  `json:"version"`
	Lookback         int     `json:"lookback"`
	BuyThresholdPct  float64 `json:"buy_threshold_pct"`
	SellThresholdPct float64 `json:"sell_threshold_pct"`
	TakeProfitPct    float64 `json:"take_profit_pct"`
	StopLossPct      float64 `json:"stop_loss_pct"`
}

// LoadParams reads and validates a parameter artifact.
func LoadParams(path string) (Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("strategy: read artifact: %w", err)
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return Params{}, fmt.Errorf("strategy: parse artifact: %w", err)
	}
	if p.Lookback < 2 {
		return Params{}, fmt.Errorf("strategy: lookback must be >= 2, got %d", p.Lookback)
	}
	for name, v := range map[string]float64{
		"buy_threshold_pct":  p.BuyThresholdPct,
		"sell_threshold_pct": p.SellThresholdPct,
		"take_profit_pct":    p.TakeProfitPct,
		"stop_loss_pct":      p.StopLossPct,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Params{}, fmt.Errorf("strategy: %s must be a finite non-negative value, got %f", name, v)
		}
	}
	return p, nil
}

// Momentum trades lookback-window price momentum: it buys when the move over
// the window clears the buy threshold and exits on the sell threshold, take
// profit or stop loss relative to the entry fill.
type Momentum struct {
	params  Params
	windows map[string][]float64
}

func NewMomentum(p Params) *Momentum {
	return &Momentum{params: p, windows: make(map[string][]float64)}
}

// Warm preloads a symbol's price window from historical candles so the
// strategy can act from the first live tick.
func (m *Momentum) Warm(symbol string, candles []feed.Candle) {
	for _, c := range candles {
		m.observe(symbol, c.Close)
	}
}

func (m *Momentum) Signal(t feed.Tick, st ledger.State) Signal {
	m.observe(t.Symbol, t.Price)
	w := m.windows[t.Symbol]
	if len(w) < m.params.Lookback {
		return Hold
	}
	momentum := (t.Price - w[0]) / w[0] * 100

	if pos, ok := st.Positions[t.Symbol]; ok {
		change := (t.Price - pos.EntryPrice) / pos.EntryPrice * 100
		switch {
		case m.params.TakeProfitPct > 0 && change >= m.params.TakeProfitPct:
			return Sell
		case m.params.StopLossPct > 0 && change <= -m.params.StopLossPct:
			return Sell
		case momentum <= -m.params.SellThresholdPct:
			return Sell
		}
		return Hold
	}
	if momentum >= m.params.BuyThresholdPct {
		return Buy
	}
	return Hold
}

func (m *Momentum) observe(symbol string, price float64) {
	w := append(m.windows[symbol], price)
	if len(w) > m.params.Lookback {
		w = w[len(w)-m.params.Lookback:]
	}
	m.windows[symbol] = w
}
