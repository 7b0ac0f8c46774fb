// Package iterator defines the forward sorted-iteration contract
// shared by the MemTable, the SSTable reader, and the compactor's
// k-way merge.
package iterator

import "lsmdb/pkg/types"

// Iterator walks a sorted sequence of key to value-or-tombstone pairs
// in ascending key order.
type Iterator interface {
	// First moves to the smallest key. Must be called before the
	// first Key/Value/Tombstone/Valid call.
	First()
	// Next advances to the next key.
	Next()
	// Valid reports whether the iterator currently points to an
	// entry. Once false, it stays false.
	Valid() bool
	// Key returns the current key. Only valid while Valid() is true.
	Key() types.Key
	// Value returns the current value. Meaningless if Tombstone()
	// is true.
	Value() types.Value
	// Tombstone reports whether the current entry is a deletion
	// marker rather than a live value.
	Tombstone() bool
	// Close releases any resources (open file handles) held by the
	// iterator.
	Close() error
}
