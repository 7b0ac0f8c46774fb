package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"lsmdb/pkg/clock"
	"lsmdb/pkg/config"
	"lsmdb/pkg/metrics"
)

// LevelManager owns the on-disk SSTables across all levels, their
// manifest, and the basename counter that names new tables. Within a
// level, tables are kept oldest-first; lookups walk every level
// newest-to-oldest so the most recent write for a key always wins.
type LevelManager struct {
	mu sync.RWMutex

	dir string
	cfg config.PersistenceConfig

	levels    [][]*SSTable
	manifest  *Manifest
	basenames *clock.AtomicClock
	counters  *metrics.Counters

	onCompactStart func(level int)
	onCompactEnd   func(level int)
}

// OpenLevelManager loads the manifest (if any) and opens every
// SSTable it lists. A data/index file pair on disk that the manifest
// does not mention (an orphan from a crash between "output durable"
// and "manifest rewritten") is never opened; it is not deleted
// either, and stays on disk. onCompactStart and
// onCompactEnd, when non-nil, are invoked around each level's
// compaction so a caller (the engine) can reflect it in its own
// state machine; either may be left nil.
func OpenLevelManager(dir string, cfg config.PersistenceConfig, counters *metrics.Counters, onCompactStart, onCompactEnd func(level int)) (*LevelManager, error) {
	manifest := OpenManifest(dir)
	levelBasenames, nextBasename, err := manifest.Load()
	if err != nil {
		return nil, err
	}

	lm := &LevelManager{
		dir:       dir,
		cfg:       cfg,
		levels:    make([][]*SSTable, cfg.MaxLevels),
		manifest:       manifest,
		basenames:      clock.NewAtomic(nextBasename),
		counters:       counters,
		onCompactStart: onCompactStart,
		onCompactEnd:   onCompactEnd,
	}

	for level := 0; level < cfg.MaxLevels; level++ {
		for _, basename := range levelBasenames[level] {
			tbl, err := OpenSSTable(dir, basename, cfg.SparseIndexStride)
			if err != nil {
				return nil, fmt.Errorf("persistence: open sstable %s at level %d: %w", basename, level, err)
			}
			lm.levels[level] = append(lm.levels[level], tbl)
		}
	}
	return lm, nil
}

// Get walks every level newest-to-oldest, returning the first
// matching entry found.
func (lm *LevelManager) Get(key []byte) (value []byte, tombstone bool, present bool, err error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	for level := 0; level < len(lm.levels); level++ {
		tables := lm.levels[level]
		for i := len(tables) - 1; i >= 0; i-- {
			value, tombstone, present, err = tables[i].Lookup(key)
			if err != nil {
				return nil, false, false, err
			}
			if present {
				return value, tombstone, true, nil
			}
		}
	}
	return nil, false, false, nil
}

// FlushToL0 writes an already-sorted iterator to a new SSTable,
// appends it to L0, persists the manifest, and cascades a compaction
// check starting at L0.
func (lm *LevelManager) FlushToL0(it iteratorFirstValidKeyer) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	basename := lm.nextBasename()
	w, err := NewSSTableWriter(lm.dir, basename, lm.cfg.SparseIndexStride)
	if err != nil {
		return err
	}
	for it.First(); it.Valid(); it.Next() {
		if err := w.Add(it.Key(), it.Value(), it.Tombstone()); err != nil {
			w.Discard()
			return err
		}
	}
	if w.Count() == 0 {
		w.Discard()
		return nil
	}
	tbl, err := w.Finish()
	if err != nil {
		return err
	}

	lm.levels[0] = append(lm.levels[0], tbl)
	if err := lm.persistManifest(); err != nil {
		return err
	}
	if lm.counters != nil {
		lm.counters.IncFlush()
		lm.counters.AddBytesWritten(uint64(tbl.ApproxSize()))
	}

	return lm.cascadeCompaction(0)
}

// iteratorFirstValidKeyer is the subset of pkg/iterator.Iterator
// FlushToL0 needs; it avoids an import cycle with pkg/memtable.
type iteratorFirstValidKeyer interface {
	First()
	Next()
	Valid() bool
	Key() []byte
	Value() []byte
	Tombstone() bool
}

// cascadeCompaction compacts level if it has exceeded the configured
// file threshold, and recurses into level+1 if that compaction ran.
// It must be called with lm.mu held.
func (lm *LevelManager) cascadeCompaction(level int) error {
	if level >= len(lm.levels) {
		return nil
	}
	if len(lm.levels[level]) <= lm.cfg.LevelFileThreshold {
		return nil
	}
	if level+1 >= len(lm.levels) {
		// Deepest configured level: nothing to cascade into.
		return nil
	}

	inputs := lm.levels[level]
	// Tombstones are dropped only when the target is the deepest
	// configured level and that level holds no older tables the
	// tombstones would still need to shadow.
	dropTombstones := level+1 == len(lm.levels)-1 && len(lm.levels[level+1]) == 0
	basename := lm.nextBasename()

	if lm.onCompactStart != nil {
		lm.onCompactStart(level)
	}
	merged, err := Merge(lm.dir, basename, lm.cfg.SparseIndexStride, inputs, dropTombstones)
	if lm.onCompactEnd != nil {
		lm.onCompactEnd(level)
	}
	if err != nil {
		return fmt.Errorf("persistence: compact level %d: %w", level, err)
	}

	if merged != nil {
		lm.levels[level+1] = append(lm.levels[level+1], merged)
	}
	lm.levels[level] = nil

	if err := lm.persistManifest(); err != nil {
		return err
	}

	for _, tbl := range inputs {
		path := tbl.dataFile.Name()
		indexPath := tbl.indexFile.Name()
		if cerr := tbl.Close(); cerr != nil {
			slog.Warn("failed to close compacted sstable", "basename", tbl.Basename, "error", cerr)
		}
		if rerr := os.Remove(path); rerr != nil {
			slog.Warn("failed to remove compacted sstable data file", "path", path, "error", rerr)
		}
		if rerr := os.Remove(indexPath); rerr != nil {
			slog.Warn("failed to remove compacted sstable index file", "path", indexPath, "error", rerr)
		}
	}

	if lm.counters != nil {
		lm.counters.IncCompaction()
	}

	return lm.cascadeCompaction(level + 1)
}

func (lm *LevelManager) nextBasename() string {
	return fmt.Sprintf("%020d", lm.basenames.Next())
}

func (lm *LevelManager) persistManifest() error {
	state := make(map[int][]string, len(lm.levels))
	for level, tables := range lm.levels {
		basenames := make([]string, 0, len(tables))
		for _, tbl := range tables {
			basenames = append(basenames, tbl.Basename)
		}
		state[level] = basenames
	}
	return lm.manifest.Save(state, lm.basenames.Val())
}

// Close releases every open SSTable's file handles.
func (lm *LevelManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var firstErr error
	for _, tables := range lm.levels {
		for _, tbl := range tables {
			if err := tbl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
