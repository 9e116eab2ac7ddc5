package feed

import (
	"math"
	"math/rand"
)

// SimConfig drives the offline price generator. The generator is the terminal
// feed tier and must never fail.
type SimConfig struct {
	Model      string // gbm | walk
	Seed       int64
	StartPrice float64
	Drift      float64 // annualized
	Volatility float64 // annualized
	Dt         float64 // step as fraction of a year
	WalkStep   float64
	WalkMin    float64
	WalkMax    float64
}

// simState is a per-symbol generator. Each symbol gets its own seeded source
// so the produced sequence is reproducible run to run for equal seeds.
type simState struct {
	cfg      SimConfig
	price    float64
	rng      *rand.Rand
	spare    float64 // cached second Box-Muller normal
	hasSpare bool
}

func newSimState(cfg SimConfig, seed int64, startPrice float64) *simState {
	if startPrice <= 0 {
		startPrice = cfg.StartPrice
	}
	return &simState{
		cfg:   cfg,
		price: startPrice,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (s *simState) step() float64 {
	if s.cfg.Model == "walk" {
		s.price = s.stepWalk()
	} else {
		s.price = s.stepGBM()
	}
	return s.price
}

// stepGBM advances the price by one geometric Brownian step:
// log-return = (mu - sigma^2/2) dt + sigma sqrt(dt) Z.
func (s *simState) stepGBM() float64 {
	mu, sigma, dt := s.cfg.Drift, s.cfg.Volatility, s.cfg.Dt
	z := s.normal()
	logRet := (mu-0.5*sigma*sigma)*dt + sigma*math.Sqrt(dt)*z
	return s.price * math.Exp(logRet)
}

// stepWalk advances the price by a bounded symmetric random walk.
func (s *simState) stepWalk() float64 {
	next := s.price + s.cfg.WalkStep*(2*s.rng.Float64()-1)
	if next < s.cfg.WalkMin {
		next = s.cfg.WalkMin
	}
	if next > s.cfg.WalkMax {
		next = s.cfg.WalkMax
	}
	return next
}

// normal draws a standard normal via the Box-Muller transform. Both values of
// each pair are consumed so the underlying uniform stream stays deterministic.
func (s *simState) normal() float64 {
	if s.hasSpare {
		s.hasSpare = false
		return s.spare
	}
	var u1 float64
	for u1 == 0 {
		u1 = s.rng.Float64()
	}
	u2 := s.rng.Float64()
	r := math.Sqrt(-2 * math.Log(u1))
	s.spare = r * math.Sin(2*math.Pi*u2)
	s.hasSpare = true
	return r * math.Cos(2*math.Pi*u2)
}
