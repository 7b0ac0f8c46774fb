// Package metrics tracks lightweight engine counters: puts, deletes,
// gets, flushes, compactions, and bytes written per SSTable. It is a
// plain in-process snapshot, not a server — the engine's Non-goal of
// "no network surface" rules out exposing these over HTTP, but
// nothing stops counting them.
package metrics

import "sync/atomic"

// Counters is a concrete, atomic-counter-backed collector, in the
// style matteso1-sentinel's internal/metrics package uses for its
// broker counters.
type Counters struct {
	puts        atomic.Uint64
	deletes     atomic.Uint64
	gets        atomic.Uint64
	flushes     atomic.Uint64
	compactions atomic.Uint64
	bytesWritten atomic.Uint64
}

// Snapshot is a point-in-time copy of Counters' values.
type Snapshot struct {
	Puts         uint64
	Deletes      uint64
	Gets         uint64
	Flushes      uint64
	Compactions  uint64
	BytesWritten uint64
}

func (c *Counters) IncPut()        { c.puts.Add(1) }
func (c *Counters) IncDelete()     { c.deletes.Add(1) }
func (c *Counters) IncGet()        { c.gets.Add(1) }
func (c *Counters) IncFlush()      { c.flushes.Add(1) }
func (c *Counters) IncCompaction() { c.compactions.Add(1) }

func (c *Counters) AddBytesWritten(n uint64) { c.bytesWritten.Add(n) }

// Snapshot returns the current value of every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Puts:         c.puts.Load(),
		Deletes:      c.deletes.Load(),
		Gets:         c.gets.Load(),
		Flushes:      c.flushes.Load(),
		Compactions:  c.compactions.Load(),
		BytesWritten: c.bytesWritten.Load(),
	}
}
