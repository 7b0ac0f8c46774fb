// Package memtable implements the engine's in-memory, key-sorted
// write buffer: inserts and tombstones, a running byte-size estimate,
// and sorted iteration for flushing to an SSTable.
package memtable

import (
	"bytes"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"lsmdb/pkg/iterator"
	"lsmdb/pkg/types"
)

type entry struct {
	value     []byte
	tombstone bool
}

// Memtable is a mutable, key-sorted mapping from key to
// value-or-tombstone, with a running size estimate. There is no
// compaction within a Memtable: later writes simply overwrite earlier
// ones. A Memtable never holds more than one generation of writes —
// rotation to an immutable snapshot and flushing are the engine's
// responsibility (internal/engine), not this package's.
type Memtable struct {
	data atomic.Pointer[skipmap.FuncMap[[]byte, entry]]
	size atomic.Int64
}

// New returns an empty Memtable.
func New() *Memtable {
	mt := &Memtable{}
	mt.data.Store(newSkipMap())
	return mt
}

func newSkipMap() *skipmap.FuncMap[[]byte, entry] {
	return skipmap.NewFunc[[]byte, entry](func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	})
}

// Put sets key to value, replacing any prior value or tombstone.
func (mt *Memtable) Put(key, value []byte) {
	m := mt.data.Load()
	if old, ok := m.Load(key); ok {
		mt.size.Add(-contribution(key, old))
	}
	e := entry{value: value}
	m.Store(key, e)
	mt.size.Add(contribution(key, e))
}

// Delete records key as deleted (a tombstone), replacing any prior
// value or tombstone. Deleting an absent key is a no-op with respect
// to observable state but still occupies a slot and LSN at the
// engine level.
func (mt *Memtable) Delete(key []byte) {
	m := mt.data.Load()
	if old, ok := m.Load(key); ok {
		mt.size.Add(-contribution(key, old))
	}
	tomb := entry{tombstone: true}
	m.Store(key, tomb)
	mt.size.Add(contribution(key, tomb))
}

// Lookup is the tri-state result of Get.
type Lookup int

const (
	// NotPresent means the key has no entry in this Memtable.
	NotPresent Lookup = iota
	// FoundValue means the key maps to a live value.
	FoundValue
	// FoundTombstone means the key was deleted in this Memtable.
	FoundTombstone
)

// Get looks up key, returning its value only when the result is
// FoundValue.
func (mt *Memtable) Get(key []byte) ([]byte, Lookup) {
	m := mt.data.Load()
	e, ok := m.Load(key)
	if !ok {
		return nil, NotPresent
	}
	if e.tombstone {
		return nil, FoundTombstone
	}
	return e.value, FoundValue
}

// SizeBytes returns the current byte-size accounting: the sum over
// entries of key length + value length, tombstones counted as key
// length only.
func (mt *Memtable) SizeBytes() int64 {
	return mt.size.Load()
}

// Len returns the number of entries, live or tombstoned.
func (mt *Memtable) Len() int {
	return mt.data.Load().Len()
}

// IterSorted returns an iterator over all entries in key order.
func (mt *Memtable) IterSorted() iterator.Iterator {
	return newMemtableIterator(mt.data.Load())
}

func contribution(key []byte, e entry) int64 {
	if e.tombstone {
		return int64(len(key))
	}
	return int64(len(key) + len(e.value))
}

type memtableIterator struct {
	keys   [][]byte
	values []entry
	pos    int
}

func newMemtableIterator(m *skipmap.FuncMap[[]byte, entry]) *memtableIterator {
	it := &memtableIterator{pos: -1}
	m.Range(func(key []byte, value entry) bool {
		it.keys = append(it.keys, key)
		it.values = append(it.values, value)
		return true
	})
	return it
}

func (it *memtableIterator) First() { it.pos = 0 }
func (it *memtableIterator) Next()  { it.pos++ }

func (it *memtableIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.keys)
}

func (it *memtableIterator) Key() types.Key { return it.keys[it.pos] }

func (it *memtableIterator) Value() types.Value { return it.values[it.pos].value }

func (it *memtableIterator) Tombstone() bool { return it.values[it.pos].tombstone }

func (it *memtableIterator) Close() error { return nil }
