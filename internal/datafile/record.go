package datafile

import (
	"encoding/binary"
	"fmt"

	"github.com/clawstore/clawstore/internal/index"
)

// recordState mirrors index.State on disk.
type recordState uint8

const (
	recordPresent   recordState = 0
	recordTombstone recordState = 1
)

// EncodeRecord serializes one (key, state[, value]) record payload:
// state:u8 | key_len:u32 | key | value_len:u32 | value
// Framing (len+crc32c) is applied by the caller via internal/codec.
func EncodeRecord(key []byte, state index.State, value []byte) []byte {
	st := recordPresent
	if state == index.StateTombstone {
		st = recordTombstone
		value = nil
	}

	out := make([]byte, 0, 1+4+len(key)+4+len(value))
	out = append(out, byte(st))

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(key)))
	out = append(out, scratch[:]...)
	out = append(out, key...)

	binary.LittleEndian.PutUint32(scratch[:], uint32(len(value)))
	out = append(out, scratch[:]...)
	out = append(out, value...)

	return out
}

// DecodedRecord is one parsed data-file record.
type DecodedRecord struct {
	Key   []byte
	State index.State
	Value []byte
}

// DecodeRecord parses a payload produced by EncodeRecord.
func DecodeRecord(payload []byte) (DecodedRecord, int, error) {
	var rec DecodedRecord
	if len(payload) < 1+4+4 {
		return rec, 0, fmt.Errorf("datafile: record payload too short")
	}
	off := 0
	st := recordState(payload[off])
	off++

	klen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	if off+klen > len(payload) {
		return rec, 0, fmt.Errorf("datafile: truncated record key")
	}
	rec.Key = append([]byte(nil), payload[off:off+klen]...)
	off += klen

	vlen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	if off+vlen > len(payload) {
		return rec, 0, fmt.Errorf("datafile: truncated record value")
	}
	if vlen > 0 {
		rec.Value = append([]byte(nil), payload[off:off+vlen]...)
	}
	off += vlen

	switch st {
	case recordPresent:
		rec.State = index.StatePresent
	case recordTombstone:
		rec.State = index.StateTombstone
	default:
		return rec, 0, fmt.Errorf("datafile: unknown record state byte %d", st)
	}

	return rec, off, nil
}
