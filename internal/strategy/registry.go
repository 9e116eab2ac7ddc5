package strategy

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry holds the single active Strategy behind a lock. Reload swaps the
// implementation wholesale; the control loop only calls it between ticks, so
// a swap never lands mid-order.
type Registry struct {
	path string

	mu      sync.Mutex
	active  *Momentum
	version string
}

// NewRegistry loads the artifact at path and returns a registry serving it.
// A missing or invalid artifact is fatal here: the loop must not start
// without a strategy.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the artifact and atomically replaces the active strategy.
// On failure the previous strategy stays in place.
func (r *Registry) Reload() error {
	p, err := LoadParams(r.path)
	if err != nil {
		return err
	}
	next := NewMomentum(p)

	r.mu.Lock()
	prev := r.version
	r.active = next
	r.version = p.Version
	r.mu.Unlock()

	if prev != "" && prev != p.Version {
		log.Info().Str("from", prev).Str("to", p.Version).Msg("strategy reloaded")
	}
	return nil
}

// Active returns the currently served strategy.
func (r *Registry) Active() *Momentum {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Version returns the active artifact version.
func (r *Registry) Version() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Path returns the artifact location on disk.
func (r *Registry) Path() string { return r.path }
