// Package clock provides a small monotonic counter used wherever the
// engine needs a strictly increasing number owned by a single value
// rather than a package-global: LSN allocation and SSTable basename
// generation both use one, per spec.md §9's note against
// process-wide state for file counters.
package clock

import "sync/atomic"

// AtomicClock is a goroutine-safe monotonic counter.
type AtomicClock struct {
	atomic.Uint64
}

// NewAtomic creates a counter seeded at init; Next returns init+1 first.
func NewAtomic(init uint64) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

// Val returns the current value without advancing it.
func (ac *AtomicClock) Val() uint64 {
	return ac.Load()
}

// Next atomically advances and returns the new value.
func (ac *AtomicClock) Next() uint64 {
	return ac.Add(1)
}

// Set overwrites the counter, used when resuming from a persisted value.
func (ac *AtomicClock) Set(t uint64) {
	ac.Store(t)
}
