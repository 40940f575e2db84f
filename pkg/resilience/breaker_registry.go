package resilience

import "sync"

// BreakerRegistry lazily creates and caches one CircuitBreaker per
// backend name, so a single crash-looping engine trips its own breaker
// without affecting dispatch to other backends.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	newCfg   func(name string) *CircuitBreakerConfig
}

// NewBreakerRegistry builds a registry. newCfg may be nil to use
// DefaultCircuitBreakerConfig for every backend.
func NewBreakerRegistry(newCfg func(name string) *CircuitBreakerConfig) *BreakerRegistry {
	if newCfg == nil {
		newCfg = DefaultCircuitBreakerConfig
	}
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		newCfg:   newCfg,
	}
}

// Get returns the breaker for backend, creating it on first use.
func (r *BreakerRegistry) Get(backend string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[backend]; ok {
		return cb
	}
	cb := NewCircuitBreaker(r.newCfg(backend))
	r.breakers[backend] = cb
	return cb
}

// Snapshot returns the current stats for every backend seen so far,
// used by the /health and /metrics surfaces.
func (r *BreakerRegistry) Snapshot() map[string]CircuitBreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]CircuitBreakerStats, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.GetStats()
	}
	return out
}
