// Package ledger owns the simulated account: balance, open positions, the
// fee/slippage model, and the per-trade and per-day loss caps. A Ledger is
// owned by the control-loop goroutine and is not safe for concurrent use.
package ledger

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// RejectReason classifies why Execute produced no Order. The zero value means
// the order was accepted.
type RejectReason string

const (
	RejectNone              RejectReason = ""
	RejectBadPrice          RejectReason = "bad_price"
	RejectPositionOpen      RejectReason = "position_open"
	RejectNoPosition        RejectReason = "no_position"
	RejectDailyLossLimit    RejectReason = "daily_loss_limit"
	RejectInsufficientFunds RejectReason = "insufficient_funds"
)

// Position is an open single-sided holding. At most one exists per symbol.
type Position struct {
	Symbol     string
	Quantity   float64
	EntryPrice float64 // fill price paid, slippage included
	EntryFee   float64
	OpenedAt   time.Time
}

// Order is an accepted fill. Immutable once created.
type Order struct {
	ID          string
	Symbol      string
	Side        Side
	FillPrice   float64
	Quantity    float64
	Fee         float64
	RealizedPnL float64 // SELL only
	Timestamp   time.Time
}

type Config struct {
	StartingBalance float64
	FeePct          float64
	SlippagePct     float64
	RiskPerTradePct float64
	Leverage        float64
	MaxLossPerTrade float64
	DailyLossLimit  float64
}

// State is a read-only snapshot of the ledger.
type State struct {
	Balance         float64
	Positions       map[string]Position
	Leverage        float64
	RiskPerTradePct float64
	DailyLoss       float64
	TradingDate     string
}

const dustEpsilon = 1e-8

type Ledger struct {
	cfg             Config
	balance         float64
	positions       map[string]Position
	dailyLoss       float64
	tradingDate     string
	riskPerTradePct float64
}

func New(cfg Config) *Ledger {
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	return &Ledger{
		cfg:             cfg,
		balance:         cfg.StartingBalance,
		positions:       make(map[string]Position),
		riskPerTradePct: cfg.RiskPerTradePct,
	}
}

func (l *Ledger) State() State {
	positions := make(map[string]Position, len(l.positions))
	for s, p := range l.positions {
		positions[s] = p
	}
	return State{
		Balance:         l.balance,
		Positions:       positions,
		Leverage:        l.cfg.Leverage,
		RiskPerTradePct: l.riskPerTradePct,
		DailyLoss:       l.dailyLoss,
		TradingDate:     l.tradingDate,
	}
}

func (l *Ledger) Balance() float64 { return l.balance }

// RiskPerTrade returns the current per-trade risk fraction, which the loop's
// de-risking ratchet may have reduced below the configured value.
func (l *Ledger) RiskPerTrade() float64 { return l.riskPerTradePct }

func (l *Ledger) SetRiskPerTrade(pct float64) {
	if pct > 0 {
		l.riskPerTradePct = pct
	}
}

// Execute attempts a fill at the given market price. A rejected request
// returns (nil, reason) and leaves the ledger untouched; it never panics and
// never returns an error.
//
// The date-rollover check runs before any risk gate so that the daily loss
// accumulator used by those gates always belongs to the tick's own day.
func (l *Ledger) Execute(symbol string, side Side, price float64, ts time.Time) (*Order, RejectReason) {
	l.rollDate(ts)

	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil, RejectBadPrice
	}

	switch side {
	case Buy:
		return l.executeBuy(symbol, price, ts)
	case Sell:
		return l.executeSell(symbol, price, ts)
	default:
		return nil, RejectBadPrice
	}
}

func (l *Ledger) executeBuy(symbol string, price float64, ts time.Time) (*Order, RejectReason) {
	if _, open := l.positions[symbol]; open {
		return nil, RejectPositionOpen
	}
	if math.Abs(l.dailyLoss) >= l.cfg.DailyLossLimit {
		return nil, RejectDailyLossLimit
	}

	quantity := l.balance * l.riskPerTradePct * l.cfg.Leverage / price
	if max := l.balance / price; quantity > max {
		quantity = max
	}
	if quantity <= 0 {
		return nil, RejectInsufficientFunds
	}

	fill := price * (1 + l.cfg.SlippagePct)
	notional := quantity * fill
	fee := notional * l.cfg.FeePct
	if notional+fee > l.balance {
		return nil, RejectInsufficientFunds
	}

	l.balance -= notional + fee
	l.positions[symbol] = Position{
		Symbol:     symbol,
		Quantity:   quantity,
		EntryPrice: fill,
		EntryFee:   fee,
		OpenedAt:   ts,
	}

	return &Order{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Side:      Buy,
		FillPrice: fill,
		Quantity:  quantity,
		Fee:       fee,
		Timestamp: ts,
	}, RejectNone
}

func (l *Ledger) executeSell(symbol string, price float64, ts time.Time) (*Order, RejectReason) {
	pos, open := l.positions[symbol]
	if !open || pos.Quantity < dustEpsilon {
		return nil, RejectNoPosition
	}

	fill := price * (1 - l.cfg.SlippagePct)
	proceeds := pos.Quantity * fill
	fee := proceeds * l.cfg.FeePct

	pnl := proceeds - fee - pos.Quantity*pos.EntryPrice - pos.EntryFee
	if pnl < -l.cfg.MaxLossPerTrade {
		// Realized-loss cap: losses beyond the cap are clipped, not passed
		// through to the trade record or the daily accumulator.
		log.Warn().
			Str("symbol", symbol).
			Float64("raw_pnl", pnl).
			Float64("cap", l.cfg.MaxLossPerTrade).
			Msg("realized loss clipped at per-trade cap")
		pnl = -l.cfg.MaxLossPerTrade
	}

	l.balance += proceeds - fee
	delete(l.positions, symbol)
	l.dailyLoss += pnl

	return &Order{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Side:        Sell,
		FillPrice:   fill,
		Quantity:    pos.Quantity,
		Fee:         fee,
		RealizedPnL: pnl,
		Timestamp:   ts,
	}, RejectNone
}

// rollDate resets the daily loss accumulator exactly once per calendar-date
// transition, logging the day being closed out.
func (l *Ledger) rollDate(ts time.Time) {
	date := ts.UTC().Format("2006-01-02")
	if date == l.tradingDate {
		return
	}
	if l.tradingDate != "" {
		log.Info().
			Str("date", l.tradingDate).
			Float64("daily_loss", l.dailyLoss).
			Msg("trading date rolled over")
	}
	l.tradingDate = date
	l.dailyLoss = 0
}
