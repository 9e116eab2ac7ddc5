package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// fetchQuote polls the REST endpoint for one symbol's latest price.
func (f *Feed) fetchQuote(symbol string) (float64, error) {
	if f.cfg.PullURL == "" {
		return 0, fmt.Errorf("pull tier has no endpoint configured")
	}
	u := fmt.Sprintf("%s/quote?symbol=%s", f.cfg.PullURL, url.QueryEscape(symbol))
	resp, err := f.httpClient.Get(u)
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote %s: status %d", symbol, resp.StatusCode)
	}
	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return 0, fmt.Errorf("quote %s: decode: %w", symbol, err)
	}
	if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) || q.Price <= 0 {
		return 0, fmt.Errorf("quote %s: invalid price %f", symbol, q.Price)
	}
	return q.Price, nil
}

// Candle is one historical OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type candleRow struct {
	Ts     int64   `json:"ts"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Backfill fetches up to limit historical candles for a symbol. Candles
// failing finiteness or positivity checks are dropped whole; malformed rows
// never abort the call. Without a pull endpoint it synthesizes bars from the
// simulation tier so warmup always has data.
func (f *Feed) Backfill(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	if f.cfg.PullURL == "" {
		return f.simBackfill(symbol, limit), nil
	}

	u := fmt.Sprintf("%s/candles?symbol=%s&limit=%d", f.cfg.PullURL, url.QueryEscape(symbol), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("backfill %s: %w", symbol, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backfill %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backfill %s: status %d", symbol, resp.StatusCode)
	}

	var rows []candleRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("backfill %s: decode: %w", symbol, err)
	}

	candles := make([]Candle, 0, len(rows))
	dropped := 0
	for _, r := range rows {
		if !validCandle(r) {
			dropped++
			continue
		}
		candles = append(candles, Candle{
			Time:   time.Unix(r.Ts, 0).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	if dropped > 0 {
		log.Warn().Str("symbol", symbol).Int("dropped", dropped).Msg("backfill dropped malformed candles")
	}
	return candles, nil
}

func validCandle(r candleRow) bool {
	for _, v := range []float64{r.Open, r.High, r.Low, r.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return r.Ts > 0 && !math.IsNaN(r.Volume) && !math.IsInf(r.Volume, 0) && r.Volume >= 0
}

// simBackfill generates synthetic bars from a generator seeded independently
// of the live stream so warmup does not consume the stream's randomness.
func (f *Feed) simBackfill(symbol string, limit int) []Candle {
	state := newSimState(f.cfg.Sim, f.cfg.Sim.Seed^0x5eed, f.cfg.Sim.StartPrice)
	now := time.Now().UTC()
	candles := make([]Candle, 0, limit)
	for i := 0; i < limit; i++ {
		open := state.price
		close := state.step()
		high, low := open, close
		if close > high {
			high = close
		}
		if open < close {
			low = open
		}
		candles = append(candles, Candle{
			Time:   now.Add(-time.Duration(limit-i) * time.Minute),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: 0,
		})
	}
	return candles
}
