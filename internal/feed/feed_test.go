package feed

import (
	"context"
	"testing"
	"time"
)

func pushConfig() Config {
	return Config{
		Symbols:        []string{"BTC-USD", "ETH-USD", "SOL-USD"},
		Mode:           "push",
		PushURL:        "ws://127.0.0.1:1/stream",
		PullURL:        "",
		PollInterval:   time.Millisecond,
		ReconnectDelay: time.Millisecond,
		MaxNoDataWS:    5,
		MaxNoDataREST:  4,
		Sim: SimConfig{
			Model:      "gbm",
			Seed:       7,
			StartPrice: 100,
			Drift:      0.05,
			Volatility: 0.6,
			Dt:         1.0 / (252 * 390),
		},
	}
}

func TestPushStarvationDowngradesToPull(t *testing.T) {
	f := New(pushConfig())
	if f.Tier() != TierPush {
		t.Fatalf("expected push tier, got %s", f.Tier())
	}

	// Zero fresh prices across all symbols for MaxNoDataWS sweeps.
	for i := 0; i < 5; i++ {
		if ticks := f.sweepPush(); ticks != nil {
			t.Fatalf("sweep %d: expected no ticks, got %d", i, len(ticks))
		}
	}
	if f.Tier() != TierPull {
		t.Fatalf("expected pull tier after starvation, got %s", f.Tier())
	}
}

func TestPushTierNeverRePromotes(t *testing.T) {
	f := New(pushConfig())
	for i := 0; i < 5; i++ {
		f.sweepPush()
	}
	if f.Tier() != TierPull {
		t.Fatalf("expected pull tier, got %s", f.Tier())
	}

	// Push data resuming after the downgrade must not restore the tier.
	f.setLast("BTC-USD", 101.5)
	if f.Tier() != TierPull {
		t.Fatalf("tier must stay pull after late push data, got %s", f.Tier())
	}
}

func TestFreshPriceResetsStarvationCounter(t *testing.T) {
	f := New(pushConfig())
	for i := 0; i < 4; i++ {
		f.sweepPush()
	}
	f.setLast("ETH-USD", 2000)
	ticks := f.sweepPush()
	if len(ticks) != 1 || ticks[0].Symbol != "ETH-USD" {
		t.Fatalf("expected one ETH tick, got %v", ticks)
	}
	// Counter was reset, so four more empty sweeps must not downgrade.
	for i := 0; i < 4; i++ {
		f.sweepPush()
	}
	if f.Tier() != TierPush {
		t.Fatalf("expected push tier, got %s", f.Tier())
	}
}

func TestPullStarvationDowngradesToSim(t *testing.T) {
	f := New(pushConfig())
	f.downgradeToPull()
	if f.Tier() != TierPull {
		t.Fatalf("expected pull tier, got %s", f.Tier())
	}

	// No pull endpoint configured: every round is empty.
	for i := 0; i < 4; i++ {
		f.sweepPull()
	}
	if f.Tier() != TierSim {
		t.Fatalf("expected sim tier after pull starvation, got %s", f.Tier())
	}

	// Simulation never fails: every sweep yields one tick per symbol.
	ticks := f.sweepSim()
	if len(ticks) != 3 {
		t.Fatalf("expected 3 sim ticks, got %d", len(ticks))
	}
	for _, tick := range ticks {
		if tick.Price <= 0 {
			t.Fatalf("sim tick with non-positive price: %v", tick)
		}
	}
}

func TestSimDeterministicForEqualSeeds(t *testing.T) {
	cfg := pushConfig()
	cfg.Mode = "sim"

	run := func() [][]float64 {
		f := New(cfg)
		var rounds [][]float64
		for i := 0; i < 50; i++ {
			sweep := f.sweepSim()
			prices := make([]float64, len(sweep))
			for j, tick := range sweep {
				prices[j] = tick.Price
			}
			rounds = append(rounds, prices)
		}
		return rounds
	}

	a, b := run(), run()
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("round %d symbol %d: %v != %v", i, j, a[i][j], b[i][j])
			}
		}
	}
}

func TestSimSymbolsDiverge(t *testing.T) {
	cfg := pushConfig()
	cfg.Mode = "sim"
	f := New(cfg)
	sweep := f.sweepSim()
	if sweep[0].Price == sweep[1].Price && sweep[1].Price == sweep[2].Price {
		t.Fatal("per-symbol generators must be independently seeded")
	}
}

func TestWalkStaysBounded(t *testing.T) {
	state := newSimState(SimConfig{
		Model:    "walk",
		WalkStep: 10,
		WalkMin:  95,
		WalkMax:  105,
	}, 1, 100)
	for i := 0; i < 1000; i++ {
		p := state.step()
		if p < 95 || p > 105 {
			t.Fatalf("step %d escaped bounds: %f", i, p)
		}
	}
}

func TestBackfillSynthesizesWithoutEndpoint(t *testing.T) {
	cfg := pushConfig()
	cfg.Mode = "sim"
	f := New(cfg)
	candles, err := f.Backfill(context.Background(), "BTC-USD", 10)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if len(candles) != 10 {
		t.Fatalf("expected 10 candles, got %d", len(candles))
	}
	for _, c := range candles {
		if c.Close <= 0 || c.High < c.Low {
			t.Fatalf("invalid candle: %+v", c)
		}
	}
}

func TestDroppedCandleValidation(t *testing.T) {
	good := candleRow{Ts: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3}
	if !validCandle(good) {
		t.Fatal("expected valid candle")
	}
	bad := []candleRow{
		{Ts: 1700000000, Open: 0, High: 2, Low: 0.5, Close: 1.5},
		{Ts: 1700000000, Open: 1, High: 2, Low: -1, Close: 1.5},
		{Ts: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5},
	}
	for i, r := range bad {
		if validCandle(r) {
			t.Fatalf("row %d: expected invalid", i)
		}
	}
}
