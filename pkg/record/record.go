// Package record defines the tagged operation record written to the
// write-ahead log: the smallest durable unit in the engine.
package record

import (
	"encoding/binary"
	"fmt"

	"lsmdb/pkg/types"
)

// Operation tags the kind of mutation a Record carries.
type Operation uint8

const (
	Insert Operation = iota
	Delete
	StartTxn
	CommitTxn
)

func (op Operation) String() string {
	switch op {
	case Insert:
		return "Insert"
	case Delete:
		return "Delete"
	case StartTxn:
		return "StartTxn"
	case CommitTxn:
		return "CommitTxn"
	default:
		return fmt.Sprintf("Operation(%d)", uint8(op))
	}
}

// Record is a single WAL entry: an LSN, an operation tag, and the key
// and/or value that operation carries. StartTxn and CommitTxn are
// reserved — they carry neither key nor value and have no effect on
// MemTable state in this core.
type Record struct {
	LSN   types.SeqN
	Op    Operation
	Key   []byte
	Value []byte
}

// hasKey/hasValue flags let the codec skip an absent field without a
// sentinel length, and let StartTxn/CommitTxn round-trip without
// allocating empty slices that would be indistinguishable from a
// zero-length key.
const (
	flagHasKey   = 1 << 0
	flagHasValue = 1 << 1
)

// Encode serializes r into its WAL payload representation (the bytes
// that follow the WAL's own outer length prefix). Layout:
// [lsn:u64-le][op:u8][flags:u8][key_len:u32-le][key][value_len:u32-le][value].
func Encode(r Record) []byte {
	flags := byte(0)
	if r.Key != nil {
		flags |= flagHasKey
	}
	if r.Value != nil {
		flags |= flagHasValue
	}

	size := 8 + 1 + 1
	if r.Key != nil {
		size += 4 + len(r.Key)
	}
	if r.Value != nil {
		size += 4 + len(r.Value)
	}

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], r.LSN)
	off += 8
	buf[off] = byte(r.Op)
	off++
	buf[off] = flags
	off++
	if r.Key != nil {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Key)))
		off += 4
		copy(buf[off:], r.Key)
		off += len(r.Key)
	}
	if r.Value != nil {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Value)))
		off += 4
		copy(buf[off:], r.Value)
	}
	return buf
}

// Decode parses a WAL payload previously produced by Encode. It
// returns an error for any malformed frame; callers that need to
// distinguish "short frame" (truncated trailer, not an error) from
// "malformed frame" (corruption, a fatal error) must do so with the
// outer length prefix, not by calling Decode on a partial buffer.
func Decode(buf []byte) (Record, error) {
	var r Record
	if len(buf) < 10 {
		return r, fmt.Errorf("record: frame too short: %d bytes", len(buf))
	}
	off := 0
	r.LSN = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	r.Op = Operation(buf[off])
	off++
	flags := buf[off]
	off++

	if flags&flagHasKey != 0 {
		if len(buf) < off+4 {
			return r, fmt.Errorf("record: truncated key length")
		}
		klen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if len(buf) < off+klen {
			return r, fmt.Errorf("record: truncated key")
		}
		r.Key = buf[off : off+klen]
		off += klen
	}
	if flags&flagHasValue != 0 {
		if len(buf) < off+4 {
			return r, fmt.Errorf("record: truncated value length")
		}
		vlen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if len(buf) < off+vlen {
			return r, fmt.Errorf("record: truncated value")
		}
		r.Value = buf[off : off+vlen]
		off += vlen
	}
	return r, nil
}
