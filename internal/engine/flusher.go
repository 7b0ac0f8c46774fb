package engine

import (
	"lsmdb/pkg/listener"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/persistence"
)

// flusher hands a frozen MemTable off to a background worker that
// writes it to L0 and reports completion, the same value-passing
// shape as pkg/wal: the immutable MemTable moves into the flusher,
// and the flusher hands back only an error, never a reference to
// itself or to the Engine. The write path still blocks on the result
// (per spec.md §9, synchronous flush is an accepted design point),
// but nothing here prevents running it concurrently with writes to
// the new active MemTable.
type flusher struct {
	*listener.Listener[*memtable.Memtable]

	lm     *persistence.LevelManager
	in     chan *memtable.Memtable
	doneCh chan error
}

func newFlusher(lm *persistence.LevelManager) *flusher {
	f := &flusher{
		lm:     lm,
		in:     make(chan *memtable.Memtable, 1),
		doneCh: make(chan error, 1),
	}
	f.Listener = listener.New(f.in, f.handle, f.stop)
	return f
}

// Submit hands mt off for flushing. Only one flush may be in flight
// at a time; the engine enforces that by waiting on Done before
// submitting another.
func (f *flusher) Submit(mt *memtable.Memtable) {
	f.in <- mt
}

// Done reports the error, if any, from the most recently submitted flush.
func (f *flusher) Done() <-chan error {
	return f.doneCh
}

func (f *flusher) handle(mt *memtable.Memtable) error {
	f.doneCh <- f.lm.FlushToL0(mt.IterSorted())
	return nil
}

func (f *flusher) stop() {
	close(f.in)
	close(f.doneCh)
}
