// Package persistence implements the on-disk half of the engine:
// SSTable writing and reading, per-level bookkeeping, the manifest,
// and k-way-merge compaction.
package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/iterator"
	"lsmdb/pkg/types"
)

// tombstoneSentinel marks a deleted key in an SSTable data file: a
// value_len field holding this value means "no value follows".
const tombstoneSentinel = 0xFFFFFFFF

func dataFileName(basename string) string  { return basename + ".db" }
func indexFileName(basename string) string { return basename + ".db.index" }

// SparseEntry is one entry of an SSTable's in-memory sparse index: a
// key sampled every Nth entry, paired with that key's byte offset
// into the index file.
type SparseEntry struct {
	Key         []byte
	IndexOffset uint64
}

// SSTableWriter builds one SSTable from a strictly increasing stream
// of keys, writing the data file and the index file side by side and
// sampling a sparse index as it goes.
type SSTableWriter struct {
	basename string
	dir      string

	dataFile  *os.File
	indexFile *os.File

	dataOffset  uint64
	indexOffset uint64

	stride int
	count  int

	minKey, maxKey []byte
	sparse         []SparseEntry
	haveLast       bool
	lastKey        []byte
}

// NewSSTableWriter creates the data and index files for basename
// under dir. stride is the sparse index sampling interval (every
// stride-th key is indexed).
func NewSSTableWriter(dir, basename string, stride int) (*SSTableWriter, error) {
	if stride < 1 {
		stride = 1
	}
	dataFile, err := os.OpenFile(filepath.Join(dir, dataFileName(basename)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("persistence: create sstable data file: %w", err)
	}
	indexFile, err := os.OpenFile(filepath.Join(dir, indexFileName(basename)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("persistence: create sstable index file: %w", err)
	}
	return &SSTableWriter{
		basename:  basename,
		dir:       dir,
		dataFile:  dataFile,
		indexFile: indexFile,
		stride:    stride,
	}, nil
}

// Count returns the number of entries written so far.
func (w *SSTableWriter) Count() int { return w.count }

// Add appends key and its value (or a tombstone) to the SSTable being
// built. Keys must be added in strictly increasing order; violating
// that is an invariant violation, not a recoverable error.
func (w *SSTableWriter) Add(key, value []byte, tombstone bool) error {
	if w.haveLast && bytes.Compare(key, w.lastKey) <= 0 {
		return fmt.Errorf("%w: sstable keys not strictly increasing", dberrors.ErrInvariantViolation)
	}

	dataEntryOffset := w.dataOffset
	if err := w.writeDataEntry(value, tombstone); err != nil {
		return err
	}

	indexEntryOffset := w.indexOffset
	if err := w.writeIndexEntry(key, dataEntryOffset); err != nil {
		return err
	}

	if w.count%w.stride == 0 {
		w.sparse = append(w.sparse, SparseEntry{Key: append([]byte{}, key...), IndexOffset: indexEntryOffset})
	}

	if w.minKey == nil {
		w.minKey = append([]byte{}, key...)
	}
	w.maxKey = append([]byte{}, key...)
	w.lastKey = append([]byte{}, key...)
	w.haveLast = true
	w.count++
	return nil
}

func (w *SSTableWriter) writeDataEntry(value []byte, tombstone bool) error {
	var lenBuf [4]byte
	if tombstone {
		binary.LittleEndian.PutUint32(lenBuf[:], tombstoneSentinel)
		if _, err := w.dataFile.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("persistence: write sstable tombstone: %w", err)
		}
		w.dataOffset += 4
		return nil
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
	if _, err := w.dataFile.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("persistence: write sstable value length: %w", err)
	}
	if _, err := w.dataFile.Write(value); err != nil {
		return fmt.Errorf("persistence: write sstable value: %w", err)
	}
	w.dataOffset += 4 + uint64(len(value))
	return nil
}

func (w *SSTableWriter) writeIndexEntry(key []byte, dataOffset uint64) error {
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(key)))
	if _, err := w.indexFile.Write(head[:]); err != nil {
		return fmt.Errorf("persistence: write sstable index key length: %w", err)
	}
	if _, err := w.indexFile.Write(key); err != nil {
		return fmt.Errorf("persistence: write sstable index key: %w", err)
	}
	var offBuf [8]byte
	binary.LittleEndian.PutUint64(offBuf[:], dataOffset)
	if _, err := w.indexFile.Write(offBuf[:]); err != nil {
		return fmt.Errorf("persistence: write sstable index offset: %w", err)
	}
	w.indexOffset += 4 + uint64(len(key)) + 8
	return nil
}

// Discard closes and removes the writer's files without producing a
// usable SSTable. Used when a merge emits zero entries.
func (w *SSTableWriter) Discard() {
	w.dataFile.Close()
	w.indexFile.Close()
	os.Remove(w.dataFile.Name())
	os.Remove(w.indexFile.Name())
}

// Finish syncs and closes the writer's files and opens the result for
// reading.
func (w *SSTableWriter) Finish() (*SSTable, error) {
	if err := w.dataFile.Sync(); err != nil {
		return nil, fmt.Errorf("persistence: sync sstable data file: %w", err)
	}
	if err := w.indexFile.Sync(); err != nil {
		return nil, fmt.Errorf("persistence: sync sstable index file: %w", err)
	}
	if err := w.dataFile.Close(); err != nil {
		return nil, fmt.Errorf("persistence: close sstable data file: %w", err)
	}
	if err := w.indexFile.Close(); err != nil {
		return nil, fmt.Errorf("persistence: close sstable index file: %w", err)
	}
	return OpenSSTable(w.dir, w.basename, w.stride)
}

// SSTable is a read handle onto an immutable, sorted, on-disk table:
// its sparse index lives in memory, its data and index files stay
// open for the table's lifetime. Every read uses ReadAt against a
// caller-supplied offset, so concurrent lookups against the same
// SSTable never share mutable seek state.
type SSTable struct {
	Basename  string
	dataFile  *os.File
	indexFile *os.File

	minKey, maxKey []byte
	sparse         []SparseEntry
	stride         int
}

// OpenSSTable opens an existing SSTable pair (basename.db,
// basename.db.index) under dir, scanning the index file once to
// rebuild the sparse index and the table's key range.
func OpenSSTable(dir, basename string, stride int) (*SSTable, error) {
	dataFile, err := os.Open(filepath.Join(dir, dataFileName(basename)))
	if err != nil {
		return nil, fmt.Errorf("persistence: open sstable data file: %w", err)
	}
	indexFile, err := os.Open(filepath.Join(dir, indexFileName(basename)))
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("persistence: open sstable index file: %w", err)
	}

	tbl := &SSTable{
		Basename:  basename,
		dataFile:  dataFile,
		indexFile: indexFile,
		stride:    stride,
	}
	if err := tbl.rebuildSparseIndex(); err != nil {
		dataFile.Close()
		indexFile.Close()
		return nil, err
	}
	return tbl, nil
}

func (t *SSTable) rebuildSparseIndex() error {
	var offset uint64
	i := 0
	for {
		triple, err := readIndexTripleAt(t.indexFile, offset)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrCorruption, err)
		}
		if i%t.stride == 0 {
			t.sparse = append(t.sparse, SparseEntry{Key: triple.key, IndexOffset: offset})
		}
		if t.minKey == nil {
			t.minKey = triple.key
		}
		t.maxKey = triple.key
		offset = triple.nextOffset
		i++
	}
	return nil
}

// indexTriple is one decoded index-file entry.
type indexTriple struct {
	key        []byte
	dataOffset uint64
	nextOffset uint64
}

// readIndexTripleAt decodes the [key_len][key][data_offset] triple at
// offset, returning io.EOF once offset is at or past the end of the
// index file.
func readIndexTripleAt(f *os.File, offset uint64) (*indexTriple, error) {
	var head [4]byte
	n, err := f.ReadAt(head[:], int64(offset))
	if n < 4 {
		if err == io.EOF || err == nil {
			return nil, io.EOF
		}
		return nil, err
	}
	keyLen := binary.LittleEndian.Uint32(head[:])
	key := make([]byte, keyLen)
	if keyLen > 0 {
		if _, err := f.ReadAt(key, int64(offset)+4); err != nil {
			return nil, err
		}
	}
	var offBuf [8]byte
	if _, err := f.ReadAt(offBuf[:], int64(offset)+4+int64(keyLen)); err != nil {
		return nil, err
	}
	return &indexTriple{
		key:        key,
		dataOffset: binary.LittleEndian.Uint64(offBuf[:]),
		nextOffset: offset + 4 + uint64(keyLen) + 8,
	}, nil
}

// Lookup implements the four-step bounded search from a key to its
// value: range filter, binary search over the sparse index, a bounded
// forward scan of the index file, then a single data-file read.
func (t *SSTable) Lookup(key []byte) (value []byte, tombstone bool, present bool, err error) {
	if t.minKey == nil || bytes.Compare(key, t.minKey) < 0 || bytes.Compare(key, t.maxKey) > 0 {
		return nil, false, false, nil
	}

	idx := sort.Search(len(t.sparse), func(i int) bool {
		return bytes.Compare(t.sparse[i].Key, key) > 0
	}) - 1
	if idx < 0 {
		idx = 0
	}

	offset := t.sparse[idx].IndexOffset
	var boundKey []byte
	if idx+1 < len(t.sparse) {
		boundKey = t.sparse[idx+1].Key
	}

	for scanned := 0; scanned < t.stride; scanned++ {
		triple, terr := readIndexTripleAt(t.indexFile, offset)
		if terr == io.EOF {
			return nil, false, false, nil
		}
		if terr != nil {
			return nil, false, false, fmt.Errorf("%w: %v", dberrors.ErrCorruption, terr)
		}
		cmp := bytes.Compare(triple.key, key)
		if cmp == 0 {
			return t.readValueAt(triple.dataOffset)
		}
		if cmp > 0 {
			return nil, false, false, nil
		}
		if boundKey != nil && bytes.Equal(triple.key, boundKey) {
			return nil, false, false, nil
		}
		offset = triple.nextOffset
	}
	return nil, false, false, nil
}

func (t *SSTable) readValueAt(offset uint64) (value []byte, tombstone bool, present bool, err error) {
	var lenBuf [4]byte
	if _, err := t.dataFile.ReadAt(lenBuf[:], int64(offset)); err != nil {
		return nil, false, false, fmt.Errorf("%w: %v", dberrors.ErrCorruption, err)
	}
	valueLen := binary.LittleEndian.Uint32(lenBuf[:])
	if valueLen == tombstoneSentinel {
		return nil, true, true, nil
	}
	value = make([]byte, valueLen)
	if valueLen > 0 {
		if _, err := t.dataFile.ReadAt(value, int64(offset)+4); err != nil {
			return nil, false, false, fmt.Errorf("%w: %v", dberrors.ErrCorruption, err)
		}
	}
	return value, false, true, nil
}

// MinKey and MaxKey report the table's key range.
func (t *SSTable) MinKey() []byte { return t.minKey }
func (t *SSTable) MaxKey() []byte { return t.maxKey }

// ApproxSize returns the data file's size in bytes, used for metrics.
func (t *SSTable) ApproxSize() int64 {
	info, err := t.dataFile.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close releases the table's open file handles.
func (t *SSTable) Close() error {
	err1 := t.dataFile.Close()
	err2 := t.indexFile.Close()
	return errors.Join(err1, err2)
}

// NewIterator returns a full ordered iterator over the table's
// entries, used by the compactor's k-way merge.
func (t *SSTable) NewIterator() iterator.Iterator {
	return &sstableIterator{table: t}
}

type sstableIterator struct {
	table     *SSTable
	offset    uint64
	key       types.Key
	value     types.Value
	tombstone bool
	valid     bool
	err       error
}

func (it *sstableIterator) First() {
	it.offset = 0
	it.advance()
}

func (it *sstableIterator) Next() {
	it.advance()
}

func (it *sstableIterator) advance() {
	triple, err := readIndexTripleAt(it.table.indexFile, it.offset)
	if err == io.EOF {
		it.valid = false
		return
	}
	if err != nil {
		it.valid = false
		it.err = fmt.Errorf("%w: %v", dberrors.ErrCorruption, err)
		return
	}
	value, tombstone, _, verr := it.table.readValueAt(triple.dataOffset)
	if verr != nil {
		it.valid = false
		it.err = verr
		return
	}
	it.key = triple.key
	it.value = value
	it.tombstone = tombstone
	it.offset = triple.nextOffset
	it.valid = true
}

func (it *sstableIterator) Valid() bool        { return it.valid }
func (it *sstableIterator) Key() types.Key     { return it.key }
func (it *sstableIterator) Value() types.Value { return it.value }
func (it *sstableIterator) Tombstone() bool    { return it.tombstone }
func (it *sstableIterator) Err() error         { return it.err }
func (it *sstableIterator) Close() error       { return nil }
