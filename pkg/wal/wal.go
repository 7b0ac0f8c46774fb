// Package wal implements the engine's write-ahead log: a single
// append-only file under wals/cur.wal, durable before any MemTable
// mutation it describes is allowed to take effect.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/listener"
	"lsmdb/pkg/record"
)

// WAL is the append-only durable journal of operation records.
// Appends are handed to a background listener goroutine (the same
// value-passing pattern pkg/listener uses elsewhere), which writes
// and fsyncs queued entries one at a time in submission order; a
// caller blocks on Done until its entry, and every entry queued
// before it, has been written.
type WAL struct {
	*listener.Listener[record.Record]

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	filePath string

	inputCh chan record.Record
	doneCh  chan Result
}

// Result reports the outcome of one queued Append: the LSN that was
// written and, if the underlying write failed, the error that caused
// it. A failed write never panics the background listener — the
// error is always delivered here instead.
type Result struct {
	LSN uint64
	Err error
}

// New opens (or creates) wals/cur.wal under dir.
func New(dir string) (*WAL, error) {
	walDir := filepath.Join(dir, "wals")
	if err := os.MkdirAll(walDir, 0750); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}

	filePath := filepath.Join(walDir, "cur.wal")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("wal: open file: %w", err)
	}

	w := &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: filePath,
		inputCh:  make(chan record.Record, 3),
		doneCh:   make(chan Result, 3),
	}
	w.Listener = listener.New(w.inputCh, w.writeEntry, w.stop)

	return w, nil
}

// Append queues rec for durable append and returns immediately.
// Callers that need durability before proceeding read from Done()
// for rec.LSN, as the engine's write path does.
func (w *WAL) Append(rec record.Record) {
	w.inputCh <- rec
}

// Done reports the Result of each queued Append, in submission order.
func (w *WAL) Done() <-chan Result {
	return w.doneCh
}

// writeEntry is invoked by the background listener for each queued
// record: write, flush the bufio layer, and fsync before reporting
// completion on doneCh. A write that fails partway can leave a
// partial entry on disk, which Replay later treats as a truncated
// trailer; the failure itself is reported on doneCh. writeEntry itself
// never returns a non-nil error — a device-level I/O failure is
// reported through doneCh instead, so it reaches the blocked caller
// rather than panicking the listener goroutine.
func (w *WAL) writeEntry(rec record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload := record.Encode(rec)

	var lenPrefix [8]byte
	binary.LittleEndian.PutUint64(lenPrefix[:], uint64(len(payload)))

	if _, err := w.writer.Write(lenPrefix[:]); err != nil {
		w.doneCh <- Result{LSN: rec.LSN, Err: fmt.Errorf("wal: write length prefix: %w", err)}
		return nil
	}
	if _, err := w.writer.Write(payload); err != nil {
		w.doneCh <- Result{LSN: rec.LSN, Err: fmt.Errorf("wal: write payload: %w", err)}
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.doneCh <- Result{LSN: rec.LSN, Err: fmt.Errorf("wal: flush: %w", err)}
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.doneCh <- Result{LSN: rec.LSN, Err: fmt.Errorf("wal: fsync: %w", err)}
		return nil
	}

	w.doneCh <- Result{LSN: rec.LSN}
	return nil
}

// Replay reads the log from the beginning, invoking fn for each
// complete record in file order. It stops at end-of-file or at the
// first truncated trailer — a length prefix that cannot be read in
// full, or a payload shorter than the length it declares. A truncated
// trailer is not an error: it is the point of the last crash, and the
// log is conceptually truncated there. A complete length frame whose
// payload fails to decode is corruption, a fatal error: propagated to
// the caller wrapped in dberrors.ErrCorruption.
func (w *WAL) Replay(fn func(record.Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush before replay: %w", err)
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("wal: open for replay: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("wal: failed to close replay handle", "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)

	for {
		var lenPrefix [8]byte
		if _, err := io.ReadFull(reader, lenPrefix[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil // truncated trailer or clean EOF: stop silently
			}
			return fmt.Errorf("wal: read length prefix: %w", err)
		}
		payloadLen := binary.LittleEndian.Uint64(lenPrefix[:])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(reader, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil // truncated trailer
			}
			return fmt.Errorf("wal: read payload: %w", err)
		}

		rec, err := record.Decode(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrCorruption, err)
		}

		if err := fn(rec); err != nil {
			return fmt.Errorf("wal: replay callback: %w", err)
		}
	}
}

// Close flushes and closes the underlying file. The caller must have
// already stopped the background listener (Listener.Stop) so no
// concurrent writeEntry call races with Close.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("wal: flush on close: %w", err)
		}
		w.writer = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("wal: close file: %w", err)
		}
		w.file = nil
	}
	return nil
}

func (w *WAL) stop() {
	close(w.inputCh)
	close(w.doneCh)
}
