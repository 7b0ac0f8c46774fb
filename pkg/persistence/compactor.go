package persistence

import (
	"bytes"
	"container/heap"

	"lsmdb/pkg/iterator"
)

// mergeEntry is one live iterator participating in a k-way merge,
// ranked by recency: a smaller rank means a newer table.
type mergeEntry struct {
	it   iterator.Iterator
	rank int
}

// mergeHeap orders mergeEntry by key, breaking ties by rank so the
// newest table's entry for a given key always pops first.
type mergeHeap []*mergeEntry

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].it.Key(), h[j].it.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].rank < h[j].rank
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*mergeEntry)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge performs a k-way merge of inputs, ordered oldest-to-newest,
// into one new SSTable written under dir with basename. Where two or
// more inputs contain the same key, the value from the newest input
// wins; dropTombstones discards tombstone entries entirely rather
// than carrying them forward, which is only safe when the merge
// output lands on the deepest level in use. Merge returns a nil table
// (and no error) if every input entry was a dropped tombstone.
func Merge(dir, basename string, stride int, inputs []*SSTable, dropTombstones bool) (*SSTable, error) {
	w, err := NewSSTableWriter(dir, basename, stride)
	if err != nil {
		return nil, err
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, tbl := range inputs {
		it := tbl.NewIterator()
		it.First()
		if it.Valid() {
			heap.Push(h, &mergeEntry{it: it, rank: len(inputs) - 1 - i})
		} else {
			it.Close()
		}
	}

	var werr error
	for h.Len() > 0 && werr == nil {
		winner := heap.Pop(h).(*mergeEntry)
		key := append([]byte{}, winner.it.Key()...)
		value := append([]byte{}, winner.it.Value()...)
		tombstone := winner.it.Tombstone()

		advance(h, winner)

		for h.Len() > 0 && bytes.Equal((*h)[0].it.Key(), key) {
			dup := heap.Pop(h).(*mergeEntry)
			advance(h, dup)
		}

		if tombstone && dropTombstones {
			continue
		}
		werr = w.Add(key, value, tombstone)
	}

	for h.Len() > 0 {
		e := heap.Pop(h).(*mergeEntry)
		e.it.Close()
	}

	if werr != nil {
		w.Discard()
		return nil, werr
	}
	if w.Count() == 0 {
		w.Discard()
		return nil, nil
	}
	return w.Finish()
}

// advance moves e's iterator forward, either re-pushing it onto h or
// closing it once exhausted.
func advance(h *mergeHeap, e *mergeEntry) {
	e.it.Next()
	if e.it.Valid() {
		heap.Push(h, e)
	} else {
		e.it.Close()
	}
}
