package breaker

import (
	"sync"
	"time"
)

// Table is the process-wide registry of per-dependency breakers: one of
// the gateway's few long-lived singletons (alongside the Registry, the
// Cache handle, and the Telemetry worker), per spec.md §5.
type Table struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewTable constructs a Table; every breaker it creates on demand shares
// the same threshold/cooldown configuration.
func NewTable(threshold int, cooldown time.Duration) *Table {
	return &Table{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// For returns the breaker for dependency name, creating it on first use.
func (t *Table) For(name string) *Breaker {
	t.mu.RLock()
	b, ok := t.breakers[name]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[name]; ok {
		return b
	}
	b = New(t.threshold, t.cooldown)
	t.breakers[name] = b
	return b
}

// States returns a snapshot of every known dependency's state, for the
// health endpoint.
func (t *Table) States() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]State, len(t.breakers))
	for name, b := range t.breakers {
		out[name] = b.CurrentState()
	}
	return out
}
