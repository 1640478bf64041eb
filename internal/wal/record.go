package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/clawstore/clawstore/internal/clawerrors"
)

// Op identifies the logical mutation a WAL record replays.
type Op uint8

const (
	OpPut Op = iota + 1
	OpDelete
)

// Record is one logical mutation: Put(table, key, value) or
// Delete(table, key). Payload layout on disk (spec §6):
// lsn:u64 | table_len:u8 | table | op:u8 | key_len:u32 | key | value_len:u32 | value
type Record struct {
	LSN   uint64
	Table string
	Op    Op
	Key   []byte
	Value []byte
}

// EncodedSize returns the exact payload size Encode will produce.
func (r *Record) EncodedSize() int {
	return 8 + 1 + len(r.Table) + 1 + 4 + len(r.Key) + 4 + len(r.Value)
}

// Encode appends the record's payload (not the codec frame) to dst.
func (r *Record) Encode(dst []byte) []byte {
	var scratch [8]byte

	binary.LittleEndian.PutUint64(scratch[:8], r.LSN)
	dst = append(dst, scratch[:8]...)

	if len(r.Table) > 255 {
		panic("wal: table name exceeds 255 bytes")
	}
	dst = append(dst, byte(len(r.Table)))
	dst = append(dst, r.Table...)

	dst = append(dst, byte(r.Op))

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(r.Key)))
	dst = append(dst, scratch[:4]...)
	dst = append(dst, r.Key...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(r.Value)))
	dst = append(dst, scratch[:4]...)
	dst = append(dst, r.Value...)

	return dst
}

// DecodeRecord parses a payload previously produced by Encode.
func DecodeRecord(payload []byte) (*Record, error) {
	if len(payload) < 8+1+1+4+4 {
		return nil, fmt.Errorf("wal: payload too short: %d bytes", len(payload))
	}

	r := &Record{}
	off := 0

	r.LSN = binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8

	tlen := int(payload[off])
	off++
	if off+tlen > len(payload) {
		return nil, fmt.Errorf("wal: truncated table name")
	}
	r.Table = string(payload[off : off+tlen])
	off += tlen

	if off >= len(payload) {
		return nil, fmt.Errorf("wal: truncated op byte")
	}
	r.Op = Op(payload[off])
	off++

	if off+4 > len(payload) {
		return nil, fmt.Errorf("wal: truncated key length")
	}
	klen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	if off+klen > len(payload) {
		return nil, fmt.Errorf("wal: truncated key")
	}
	r.Key = append([]byte(nil), payload[off:off+klen]...)
	off += klen

	if off+4 > len(payload) {
		return nil, fmt.Errorf("wal: truncated value length")
	}
	vlen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	if off+vlen > len(payload) {
		return nil, fmt.Errorf("wal: truncated value")
	}
	if vlen > 0 {
		r.Value = append([]byte(nil), payload[off:off+vlen]...)
	}
	off += vlen

	switch r.Op {
	case OpPut, OpDelete:
	default:
		return nil, &clawerrors.CorruptionError{Err: fmt.Errorf("unknown wal op byte %d", r.Op)}
	}

	return r, nil
}
