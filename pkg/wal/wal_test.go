package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"lsmdb/pkg/record"
)

func TestAppendReportsLSNAndReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	recs := []record.Record{
		{LSN: 1, Op: record.Insert, Key: []byte("a"), Value: []byte("1")},
		{LSN: 2, Op: record.Insert, Key: []byte("b"), Value: []byte("2")},
		{LSN: 3, Op: record.Delete, Key: []byte("a")},
	}
	for _, rec := range recs {
		w.Append(rec)
		res := <-w.Done()
		if res.Err != nil {
			t.Fatalf("Append(%d): %v", rec.LSN, res.Err)
		}
		if res.LSN != rec.LSN {
			t.Fatalf("got LSN %d, want %d", res.LSN, rec.LSN)
		}
	}
	w.Stop()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := New(dir)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer w2.Close()

	var replayed []record.Record
	if err := w2.Replay(func(r record.Record) error {
		replayed = append(replayed, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(replayed) != len(recs) {
		t.Fatalf("replayed %d records, want %d", len(replayed), len(recs))
	}
	for i, r := range replayed {
		if r.LSN != recs[i].LSN || r.Op != recs[i].Op {
			t.Fatalf("record %d: got %+v, want %+v", i, r, recs[i])
		}
	}
}

func TestReplayStopsAtTruncatedTrailer(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Append(record.Record{LSN: 1, Op: record.Insert, Key: []byte("a"), Value: []byte("1")})
	if res := <-w.Done(); res.Err != nil {
		t.Fatalf("Append 1: %v", res.Err)
	}
	w.Append(record.Record{LSN: 2, Op: record.Insert, Key: []byte("b"), Value: []byte("value-two")})
	if res := <-w.Done(); res.Err != nil {
		t.Fatalf("Append 2: %v", res.Err)
	}
	w.Stop()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	walPath := filepath.Join(dir, "wals", "cur.wal")
	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(walPath, info.Size()-5); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	w2, err := New(dir)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer w2.Close()

	var replayed []record.Record
	if err := w2.Replay(func(r record.Record) error {
		replayed = append(replayed, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(replayed) != 1 || replayed[0].LSN != 1 {
		t.Fatalf("replayed %+v, want exactly the first record", replayed)
	}
}
