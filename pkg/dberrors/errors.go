// Package dberrors collects the sentinel errors for the taxonomy in
// spec.md §7: IO-transient errors are returned from the operation
// that failed, wrapped with context via %w; the sentinels below name the remaining
// kinds (corruption, invariant violation, and the couple of
// not-an-error signals callers may still want to test for with
// errors.Is).
package dberrors

import "errors"

var (
	// ErrNotFound is never returned by Engine.Get — a missing or
	// tombstoned key yields (nil, false, nil), per spec.md §7. It is
	// kept for callers layering their own not-found semantics on top.
	ErrNotFound = errors.New("lsmdb: not found")

	// ErrClosed is returned by any operation issued after Close.
	ErrClosed = errors.New("lsmdb: closed")

	// ErrInvalidArgument flags a malformed call, e.g. an empty key.
	ErrInvalidArgument = errors.New("lsmdb: invalid argument")

	// ErrCompactionRunning names a request for a compaction that
	// overlaps one already in flight for that level. No operation in
	// this module returns it: compactions run only inside
	// LevelManager.FlushToL0, under the level manager's lock.
	ErrCompactionRunning = errors.New("lsmdb: compaction already running")

	// ErrCorruption marks a complete length-framed record that fails
	// to parse, or an SSTable file whose declared length exceeds the
	// file's actual size. It is returned to the caller of the
	// operation that hit it; the engine does not stop accepting
	// further operations afterwards.
	ErrCorruption = errors.New("lsmdb: corruption")

	// ErrInvariantViolation marks a programming error: an unsorted
	// key stream into an SSTable writer, a duplicate key within one
	// SSTable, or a lookup key outside an SSTable's [min_key, max_key].
	// In this module only SSTableWriter.Add returns it, for a key not
	// strictly greater than the previous one; SSTable.Lookup treats a
	// key outside the table's range as a plain miss.
	ErrInvariantViolation = errors.New("lsmdb: invariant violation")
)
