package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SeqN is a Log Sequence Number: a monotonically increasing identifier
// assigned to every WAL entry at the moment it is written.
type SeqN = uint64
