// Package feed produces the tick stream consumed by the control loop. A Feed
// starts on its highest configured tier and degrades one way only:
// push (websocket) -> pull (REST polling) -> simulation. Once a tier is
// abandoned it is never re-promoted; a new Feed must be constructed instead.
package feed

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adaptrade/stabilizer/internal/obs"
)

// Tick is one (symbol, price, timestamp) market observation.
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}

type Tier string

const (
	TierPush Tier = "push"
	TierPull Tier = "pull"
	TierSim  Tier = "sim"
)

type Config struct {
	Symbols        []string
	Mode           string // push | sim
	PushURL        string
	PullURL        string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	MaxNoDataWS    int
	MaxNoDataREST  int
	Sim            SimConfig
}

type pricePoint struct {
	price float64
	fresh bool
}

// Feed is safe for use by its own background workers plus one consumer. One
// coarse mutex guards the tier, the last-price map, and the sim-state map so
// no tier ever observes another's half-written state.
type Feed struct {
	cfg Config

	mu         sync.Mutex
	tier       Tier
	last       map[string]*pricePoint
	sim        map[string]*simState
	noDataWS   int
	noDataREST int
	conns      []closer

	out       chan Tick
	done      chan struct{}
	pushStop  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	httpClient *http.Client
}

type closer interface{ Close() error }

func New(cfg Config) *Feed {
	f := &Feed{
		cfg:      cfg,
		last:     make(map[string]*pricePoint),
		sim:      make(map[string]*simState),
		out:      make(chan Tick, 64),
		done:     make(chan struct{}),
		pushStop: make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, sym := range cfg.Symbols {
		f.last[sym] = &pricePoint{}
	}
	if cfg.Mode == "push" {
		f.tier = TierPush
	} else {
		f.tier = TierSim
		f.initSimLocked()
	}
	obs.SetFeedTier(string(f.tier))
	return f
}

// Ticks starts the feed on first call and returns the tick stream. The stream
// is infinite and non-restartable; Close terminates it.
func (f *Feed) Ticks() <-chan Tick {
	f.startOnce.Do(func() {
		if f.Tier() == TierPush {
			for _, sym := range f.cfg.Symbols {
				f.wg.Add(1)
				go f.runPushWorker(sym)
			}
		}
		f.wg.Add(1)
		go f.consume()
	})
	return f.out
}

// Close stops all workers and closes the tick stream.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		for _, c := range f.conns {
			_ = c.Close()
		}
		f.conns = nil
		f.mu.Unlock()
		f.wg.Wait()
		close(f.out)
	})
}

func (f *Feed) Tier() Tier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tier
}

func (f *Feed) consume() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			for _, tick := range f.sweep() {
				select {
				case f.out <- tick:
				case <-f.done:
					return
				}
			}
		}
	}
}

// sweep produces the ticks for one poll interval on the currently active tier.
func (f *Feed) sweep() []Tick {
	switch f.Tier() {
	case TierPush:
		return f.sweepPush()
	case TierPull:
		return f.sweepPull()
	default:
		return f.sweepSim()
	}
}

// sweepPush drains fresh prices written by the websocket workers. After
// MaxNoDataWS consecutive empty sweeps the push tier disables itself for the
// remainder of the feed's life.
func (f *Feed) sweepPush() []Tick {
	now := time.Now().UTC()

	f.mu.Lock()
	var ticks []Tick
	for _, sym := range f.cfg.Symbols {
		p := f.last[sym]
		if p.fresh {
			p.fresh = false
			ticks = append(ticks, Tick{Symbol: sym, Price: p.price, Time: now})
		}
	}
	if len(ticks) > 0 {
		f.noDataWS = 0
		f.mu.Unlock()
		return ticks
	}
	f.noDataWS++
	starved := f.noDataWS >= f.cfg.MaxNoDataWS
	f.mu.Unlock()

	if starved {
		f.downgradeToPull()
	}
	return nil
}

// sweepPull polls the REST quote endpoint once per symbol. After
// MaxNoDataREST consecutive all-empty rounds it downgrades to simulation.
func (f *Feed) sweepPull() []Tick {
	now := time.Now().UTC()
	var ticks []Tick
	for _, sym := range f.cfg.Symbols {
		price, err := f.fetchQuote(sym)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sym).Msg("pull tier quote failed")
			continue
		}
		f.mu.Lock()
		f.last[sym].price = price
		f.mu.Unlock()
		ticks = append(ticks, Tick{Symbol: sym, Price: price, Time: now})
	}

	f.mu.Lock()
	if len(ticks) > 0 {
		f.noDataREST = 0
		f.mu.Unlock()
		return ticks
	}
	f.noDataREST++
	starved := f.noDataREST >= f.cfg.MaxNoDataREST
	f.mu.Unlock()

	if starved {
		f.downgradeToSim()
	}
	return nil
}

func (f *Feed) sweepSim() []Tick {
	now := time.Now().UTC()
	f.mu.Lock()
	defer f.mu.Unlock()
	ticks := make([]Tick, 0, len(f.cfg.Symbols))
	for _, sym := range f.cfg.Symbols {
		ticks = append(ticks, Tick{Symbol: sym, Price: f.sim[sym].step(), Time: now})
	}
	return ticks
}

// downgradeToPull permanently abandons the push tier. The downgrade is one
// way: later websocket recoveries are ignored, so the operator is warned
// explicitly.
func (f *Feed) downgradeToPull() {
	f.mu.Lock()
	if f.tier != TierPush {
		f.mu.Unlock()
		return
	}
	f.tier = TierPull
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.conns = nil
	f.mu.Unlock()

	close(f.pushStop)
	obs.SetFeedTier(string(TierPull))
	log.Warn().
		Int("empty_sweeps", f.cfg.MaxNoDataWS).
		Msg("push feed starved, downgrading to pull tier; feed will not re-promote")
}

// downgradeToSim permanently abandons the pull tier. Generators are seeded at
// the last observed price where one exists.
func (f *Feed) downgradeToSim() {
	f.mu.Lock()
	if f.tier != TierPull {
		f.mu.Unlock()
		return
	}
	f.tier = TierSim
	f.initSimLocked()
	f.mu.Unlock()

	obs.SetFeedTier(string(TierSim))
	log.Warn().
		Int("empty_rounds", f.cfg.MaxNoDataREST).
		Msg("pull feed starved, downgrading to offline simulation; feed will not re-promote")
}

// initSimLocked builds one seeded generator per symbol. Caller holds f.mu.
func (f *Feed) initSimLocked() {
	for i, sym := range f.cfg.Symbols {
		if _, ok := f.sim[sym]; ok {
			continue
		}
		start := f.cfg.Sim.StartPrice
		if p := f.last[sym]; p != nil && p.price > 0 {
			start = p.price
		}
		f.sim[sym] = newSimState(f.cfg.Sim, f.cfg.Sim.Seed+int64(i), start)
	}
}

// setLast records a pushed price. Called from websocket workers.
func (f *Feed) setLast(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.last[symbol]
	if !ok {
		return
	}
	p.price = price
	p.fresh = true
}
