package engine

import (
	"errors"
	"fmt"
	"testing"

	"lsmdb/pkg/config"
	"lsmdb/pkg/dberrors"
)

func testConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.DB.DataDir = dir
	cfg.DB.Memtable.FlushThresholdBytes = 64
	cfg.DB.Persistence.SparseIndexStride = 4
	cfg.DB.Persistence.LevelFileThreshold = 3
	cfg.DB.Persistence.MaxLevels = 3
	return cfg
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, ok, err := e.Get([]byte("a"))
	if err != nil || !ok || string(value) != "1" {
		t.Fatalf("Get(a) = (%q, %v, %v)", value, ok, err)
	}

	if err := e.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = e.Get([]byte("a"))
	if err != nil || ok {
		t.Fatalf("Get(a) after delete: ok=%v err=%v, want not found", ok, err)
	}
}

func TestGetAbsentKeyReturnsNotFoundNotError(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	_, ok, err := e.Get([]byte("never-written"))
	if err != nil || ok {
		t.Fatalf("Get(never-written) = ok=%v err=%v, want (false, nil)", ok, err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put(nil, []byte("v")); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("Put(nil key) = %v, want ErrInvalidArgument", err)
	}
	if _, _, err := e.Get(nil); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("Get(nil key) = %v, want ErrInvalidArgument", err)
	}
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := e.Put([]byte("a"), []byte("1")); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("Put after close = %v, want ErrClosed", err)
	}
	if _, _, err := e.Get([]byte("a")); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("Get after close = %v, want ErrClosed", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDurabilityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	defer e2.Close()

	value, ok, err := e2.Get([]byte("k"))
	if err != nil || !ok || string(value) != "v" {
		t.Fatalf("Get(k) after restart = (%q, %v, %v), want (\"v\", true, nil)", value, ok, err)
	}
}

func TestFlushThresholdTriggersFlushToL0(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	// Each key/value pair is well under the 64-byte threshold; write
	// enough of them that the active MemTable is forced to flush.
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%03d", i)
		if err := e.Put([]byte(key), []byte("0123456789")); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value, ok, err := e.Get([]byte(key))
		if err != nil || !ok || string(value) != "0123456789" {
			t.Fatalf("Get(%s) = (%q, %v, %v)", key, value, ok, err)
		}
	}
}

func TestOverwriteAcrossFlushKeepsNewestValue(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("k"), []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Force a flush of the first value to L0 with filler writes.
	for i := 0; i < 10; i++ {
		if err := e.Put([]byte(fmt.Sprintf("filler-%d", i)), []byte("0123456789")); err != nil {
			t.Fatalf("Put filler: %v", err)
		}
	}
	if err := e.Put([]byte("k"), []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	value, ok, err := e.Get([]byte("k"))
	if err != nil || !ok || string(value) != "second" {
		t.Fatalf("Get(k) = (%q, %v, %v), want \"second\"", value, ok, err)
	}
}

func TestDeleteThenCompactionDropsTombstoneAtDeepestLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.DB.Persistence.LevelFileThreshold = 1
	cfg.DB.Persistence.MaxLevels = 2
	cfg.DB.Memtable.FlushThresholdBytes = 1

	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := e.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	_, ok, err := e.Get([]byte("a"))
	if err != nil || ok {
		t.Fatalf("Get(a) = ok=%v err=%v, want not found", ok, err)
	}
	value, ok, err := e.Get([]byte("b"))
	if err != nil || !ok || string(value) != "2" {
		t.Fatalf("Get(b) = (%q, %v, %v)", value, ok, err)
	}
}

func TestStatsReflectOperations(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, _, err := e.Get([]byte("a")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := e.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	stats := e.Stats()
	if stats.Puts != 1 || stats.Deletes != 1 || stats.Gets != 1 {
		t.Fatalf("Stats() = %+v, want Puts=1 Deletes=1 Gets=1", stats)
	}
}

func TestStateStartsOpen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if state, level := e.State(); state != StateOpen || level != -1 {
		t.Fatalf("State() = (%v, %d), want (Open, -1)", state, level)
	}
}

func TestStateIsClosedAfterClose(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if state, _ := e.State(); state != StateClosed {
		t.Fatalf("State() = %v, want Closed", state)
	}
}
