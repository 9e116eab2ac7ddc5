// Package monitor samples host resources and connectivity in the background
// and raises a cooldown flag the control loop must consult before each tick.
// The flag is live: a breached limit halts trading until the next clean sample.
package monitor

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/adaptrade/stabilizer/internal/obs"
)

type Config struct {
	Interval     time.Duration
	MaxCPUPct    float64
	MaxRAMPct    float64
	ProbeAddr    string // host:port, empty disables the connectivity probe
	ProbeTimeout time.Duration
}

type Monitor struct {
	cfg Config

	mu       sync.Mutex
	cooldown bool

	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg, done: make(chan struct{})}
}

// Start launches the background sampler. Safe to call more than once.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.run()
	})
}

// Stop terminates the sampler and waits for it to exit.
func (m *Monitor) Stop() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

// ShouldCooldown reports the flag set by the most recent sample.
func (m *Monitor) ShouldCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldown
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample takes one measurement of CPU, RAM and connectivity and applies it to
// the cooldown flag. Measurement failures count as healthy: a broken sampler
// must not halt trading on its own.
func (m *Monitor) sample() {
	cpuPct := 0.0
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	} else if err != nil {
		log.Debug().Err(err).Msg("cpu sample failed")
	}

	ramPct := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		ramPct = vm.UsedPercent
	} else {
		log.Debug().Err(err).Msg("ram sample failed")
	}

	m.apply(cpuPct, ramPct, m.probe())
}

// apply evaluates one sample against the configured limits and updates the
// flag the control loop reads. Split out from sample so limit logic is
// testable without a host.
func (m *Monitor) apply(cpuPct, ramPct float64, connected bool) {
	breach := ""
	switch {
	case m.cfg.MaxCPUPct > 0 && cpuPct > m.cfg.MaxCPUPct:
		breach = "cpu"
	case m.cfg.MaxRAMPct > 0 && ramPct > m.cfg.MaxRAMPct:
		breach = "ram"
	case !connected:
		breach = "connectivity"
	}

	m.mu.Lock()
	prev := m.cooldown
	m.cooldown = breach != ""
	m.mu.Unlock()

	if breach != "" && !prev {
		obs.IncCooldown()
		log.Warn().
			Str("limit", breach).
			Float64("cpu_pct", cpuPct).
			Float64("ram_pct", ramPct).
			Msg("resource limit breached, entering cooldown")
	}
	if breach == "" && prev {
		log.Info().Msg("resource limits clear, leaving cooldown")
	}
}

// probe dials the configured address once. No address configured means the
// probe always passes.
func (m *Monitor) probe() bool {
	if m.cfg.ProbeAddr == "" {
		return true
	}
	conn, err := net.DialTimeout("tcp", m.cfg.ProbeAddr, m.cfg.ProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
