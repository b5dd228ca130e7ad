// Package breaker implements the per-dependency Circuit Breaker: closed,
// open, and half-open states transitioned via atomic compare-and-swap, with
// no mutex on the hot path, per spec.md §9's redesign note on the
// teacher's shared-mutable-counter style.
package breaker

import (
	"sync/atomic"
	"time"
)

// State is a circuit's current admission state.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker tracks consecutive failures against one external dependency.
// Threshold consecutive failures opens the circuit for Cooldown; the first
// call after cooldown is admitted as a half-open probe, which closes the
// circuit on success or re-opens it on failure.
type Breaker struct {
	threshold int64
	cooldown  time.Duration

	state          atomic.Int32
	consecutiveFail atomic.Int64
	openedAtNano   atomic.Int64
	probeInFlight  atomic.Bool

	now func() time.Time
}

// New constructs a Breaker with the given failure threshold and cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	b := &Breaker{threshold: int64(threshold), cooldown: cooldown, now: time.Now}
	b.state.Store(int32(Closed))
	return b
}

// Allow reports whether a call to the guarded dependency may proceed. When
// the circuit is open and the cooldown has not elapsed, Allow returns false
// without any I/O — the distinguishing property of a tripped breaker.
// When the cooldown has elapsed, exactly one caller is admitted as a probe;
// concurrent callers during that window are still refused.
func (b *Breaker) Allow() bool {
	switch State(b.state.Load()) {
	case Closed:
		return true
	case HalfOpen:
		return false // a probe is already in flight
	default: // Open
		openedAt := time.Unix(0, b.openedAtNano.Load())
		if b.now().Sub(openedAt) < b.cooldown {
			return false
		}
		// Cooldown elapsed: try to become the single admitted probe.
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			b.probeInFlight.Store(true)
			return true
		}
		return false
	}
}

// RecordSuccess closes the circuit (from closed or half-open) and resets
// the failure counter.
func (b *Breaker) RecordSuccess() {
	b.consecutiveFail.Store(0)
	b.probeInFlight.Store(false)
	b.state.Store(int32(Closed))
}

// RecordFailure increments the consecutive-failure counter. From closed,
// reaching the threshold opens the circuit. From half-open, any failure
// re-opens it immediately.
func (b *Breaker) RecordFailure() {
	if State(b.state.Load()) == HalfOpen {
		b.probeInFlight.Store(false)
		b.trip()
		return
	}

	n := b.consecutiveFail.Add(1)
	if n >= b.threshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.openedAtNano.Store(b.now().UnixNano())
	b.state.Store(int32(Open))
}

// CurrentState returns the breaker's current state for health/metrics reporting.
func (b *Breaker) CurrentState() State {
	return State(b.state.Load())
}
