package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry holds the named breakers of a process. It is constructed once at
// startup and passed to whatever needs breaker access; there is deliberately
// no package-level registry.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register adds a breaker under its name. Registering the same name twice
// replaces the previous entry; names are expected to be unique per process.
func (r *Registry) Register(b *Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Name()] = b
}

// Get returns the breaker registered under name, or nil.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Names returns all registered breaker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the stats of every registered breaker, ordered by name.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	sort.Slice(breakers, func(i, j int) bool { return breakers[i].Name() < breakers[j].Name() })

	stats := make([]Stats, len(breakers))
	for i, b := range breakers {
		stats[i] = b.Stats()
	}
	return stats
}
