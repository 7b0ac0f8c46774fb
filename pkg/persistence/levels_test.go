package persistence

import (
	"fmt"
	"testing"

	"lsmdb/pkg/config"
	"lsmdb/pkg/metrics"
)

// sliceIterator satisfies iteratorFirstValidKeyer over an in-memory,
// already-sorted slice, standing in for a MemTable's sorted iterator
// in tests that only exercise the persistence layer.
type sliceIterator struct {
	entries []sliceEntry
	pos     int
}

type sliceEntry struct {
	key, value []byte
	tombstone  bool
}

func (s *sliceIterator) First()            { s.pos = 0 }
func (s *sliceIterator) Next()             { s.pos++ }
func (s *sliceIterator) Valid() bool       { return s.pos < len(s.entries) }
func (s *sliceIterator) Key() []byte       { return s.entries[s.pos].key }
func (s *sliceIterator) Value() []byte     { return s.entries[s.pos].value }
func (s *sliceIterator) Tombstone() bool   { return s.entries[s.pos].tombstone }

func newSliceIterator(entries ...sliceEntry) *sliceIterator {
	return &sliceIterator{entries: entries}
}

func testCfg() config.PersistenceConfig {
	return config.PersistenceConfig{
		SparseIndexStride:  4,
		LevelFileThreshold: 2,
		MaxLevels:          3,
	}
}

func TestLevelManagerFlushAndGet(t *testing.T) {
	dir := t.TempDir()
	lm, err := OpenLevelManager(dir, testCfg(), &metrics.Counters{}, nil, nil)
	if err != nil {
		t.Fatalf("OpenLevelManager: %v", err)
	}
	defer lm.Close()

	if err := lm.FlushToL0(newSliceIterator(
		sliceEntry{key: []byte("a"), value: []byte("1")},
		sliceEntry{key: []byte("b"), value: []byte("2")},
	)); err != nil {
		t.Fatalf("FlushToL0: %v", err)
	}

	value, tombstone, present, err := lm.Get([]byte("b"))
	if err != nil || !present || tombstone || string(value) != "2" {
		t.Fatalf("Get(b) = (%q, %v, %v, %v)", value, tombstone, present, err)
	}

	_, _, present, err = lm.Get([]byte("missing"))
	if err != nil || present {
		t.Fatalf("Get(missing) present=%v err=%v", present, err)
	}
}

func TestLevelManagerNewestFlushWinsOnOverlap(t *testing.T) {
	dir := t.TempDir()
	lm, err := OpenLevelManager(dir, testCfg(), &metrics.Counters{}, nil, nil)
	if err != nil {
		t.Fatalf("OpenLevelManager: %v", err)
	}
	defer lm.Close()

	if err := lm.FlushToL0(newSliceIterator(sliceEntry{key: []byte("k"), value: []byte("old")})); err != nil {
		t.Fatalf("FlushToL0 #1: %v", err)
	}
	if err := lm.FlushToL0(newSliceIterator(sliceEntry{key: []byte("k"), value: []byte("new")})); err != nil {
		t.Fatalf("FlushToL0 #2: %v", err)
	}

	value, _, present, err := lm.Get([]byte("k"))
	if err != nil || !present || string(value) != "new" {
		t.Fatalf("Get(k) = (%q, present=%v, err=%v), want \"new\"", value, present, err)
	}
}

func TestLevelManagerCascadeCompactionOnThreshold(t *testing.T) {
	dir := t.TempDir()
	var compactStarted, compactEnded []int
	lm, err := OpenLevelManager(dir, testCfg(), &metrics.Counters{},
		func(level int) { compactStarted = append(compactStarted, level) },
		func(level int) { compactEnded = append(compactEnded, level) },
	)
	if err != nil {
		t.Fatalf("OpenLevelManager: %v", err)
	}
	defer lm.Close()

	// threshold is 2, so a 3rd L0 flush must trigger a cascade into L1.
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		if err := lm.FlushToL0(newSliceIterator(sliceEntry{key: []byte(key), value: []byte("v")})); err != nil {
			t.Fatalf("FlushToL0 #%d: %v", i, err)
		}
	}

	lm.mu.RLock()
	l0Count, l1Count := len(lm.levels[0]), len(lm.levels[1])
	lm.mu.RUnlock()

	if l0Count != 0 {
		t.Fatalf("L0 has %d tables, want 0 after cascade", l0Count)
	}
	if l1Count != 1 {
		t.Fatalf("L1 has %d tables, want 1 after cascade", l1Count)
	}
	if len(compactStarted) != 1 || compactStarted[0] != 0 {
		t.Fatalf("compactStarted = %v, want [0]", compactStarted)
	}
	if len(compactEnded) != 1 || compactEnded[0] != 0 {
		t.Fatalf("compactEnded = %v, want [0]", compactEnded)
	}

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		_, _, present, err := lm.Get([]byte(key))
		if err != nil || !present {
			t.Fatalf("Get(%s) after cascade: present=%v err=%v", key, present, err)
		}
	}
}

func TestLevelManagerReopenRecoversFromManifest(t *testing.T) {
	dir := t.TempDir()
	lm, err := OpenLevelManager(dir, testCfg(), &metrics.Counters{}, nil, nil)
	if err != nil {
		t.Fatalf("OpenLevelManager: %v", err)
	}
	if err := lm.FlushToL0(newSliceIterator(sliceEntry{key: []byte("a"), value: []byte("1")})); err != nil {
		t.Fatalf("FlushToL0: %v", err)
	}
	if err := lm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lm2, err := OpenLevelManager(dir, testCfg(), &metrics.Counters{}, nil, nil)
	if err != nil {
		t.Fatalf("OpenLevelManager (reopen): %v", err)
	}
	defer lm2.Close()

	value, _, present, err := lm2.Get([]byte("a"))
	if err != nil || !present || string(value) != "1" {
		t.Fatalf("Get(a) after reopen = (%q, present=%v, err=%v)", value, present, err)
	}
}
