// Package datafile implements the immutable, sorted, on-disk data
// file format described in spec §3/§4.4/§6: a sequence of ~4 KiB
// blocks of framed (key, Present|Tombstone) records, a sparse block
// index, and a footer with record count, first/last key, the block
// index and a footer CRC32C.
package datafile

import (
	"encoding/binary"
	"fmt"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/codec"
)

const (
	// Magic identifies a ClawStore data file ("CLAW" as little-endian
	// bytes).
	Magic uint32 = 0x57414C43

	// VersionUncompressed is the on-disk format with raw (uncompressed)
	// blocks.
	VersionUncompressed uint16 = 1

	// VersionZstd is the on-disk format whose blocks are individually
	// zstd-compressed (internal/datafile's optional domain-stack
	// wiring of klauspost/compress/zstd).
	VersionZstd uint16 = 2

	// TargetBlockSize is the approximate uncompressed size at which
	// the writer rolls to a new block, matching spec §4.4 step 1.
	TargetBlockSize = 4 * 1024
)

// BlockIndexEntry is one sparse index entry: the byte offset of a
// block's first framed record and that block's first key.
type BlockIndexEntry struct {
	Offset   uint64
	FirstKey []byte
}

// Footer is the fully decoded footer of a data file.
type Footer struct {
	Version     uint16
	RecordCount uint32
	FirstKey    []byte
	LastKey     []byte
	BlockIndex  []BlockIndexEntry
	// FooterOffset is the byte offset at which the footer begins —
	// also the exclusive end of the last data block.
	FooterOffset int64
}

// Encode serializes the footer per spec §6's exact byte layout:
// magic:4 | version:2 | record_count:u32 | first_key_len:u32 | first_key
// | last_key_len:u32 | last_key | block_index_count:u32 |
// [block_offset:u64, first_key_len:u32, first_key]* | footer_crc:u32 |
// footer_len:u32
func (f *Footer) Encode() []byte {
	body := make([]byte, 0, 4+2+4+4+len(f.FirstKey)+4+len(f.LastKey)+4+len(f.BlockIndex)*16)

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], Magic)
	body = append(body, scratch[:4]...)

	binary.LittleEndian.PutUint16(scratch[:2], f.Version)
	body = append(body, scratch[:2]...)

	binary.LittleEndian.PutUint32(scratch[:4], f.RecordCount)
	body = append(body, scratch[:4]...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(f.FirstKey)))
	body = append(body, scratch[:4]...)
	body = append(body, f.FirstKey...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(f.LastKey)))
	body = append(body, scratch[:4]...)
	body = append(body, f.LastKey...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(f.BlockIndex)))
	body = append(body, scratch[:4]...)
	for _, be := range f.BlockIndex {
		binary.LittleEndian.PutUint64(scratch[:8], be.Offset)
		body = append(body, scratch[:8]...)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(be.FirstKey)))
		body = append(body, scratch[:4]...)
		body = append(body, be.FirstKey...)
	}

	crc := codec.Checksum(body)
	binary.LittleEndian.PutUint32(scratch[:4], crc)
	body = append(body, scratch[:4]...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(body)+4))
	body = append(body, scratch[:4]...)

	return body
}

// DecodeFooter parses a footer previously produced by Encode. buf must
// contain exactly the footer bytes (the caller locates them using the
// trailing footer_len field).
func DecodeFooter(buf []byte) (*Footer, error) {
	if len(buf) < 4+2+4+4+4+4+4 {
		return nil, fmt.Errorf("datafile: footer too short")
	}

	footerLen := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if int(footerLen) != len(buf) {
		return nil, &clawerrors.CorruptionError{Err: fmt.Errorf("footer length mismatch: declared %d, got %d", footerLen, len(buf))}
	}

	crcRecorded := binary.LittleEndian.Uint32(buf[len(buf)-8 : len(buf)-4])
	body := buf[:len(buf)-8]
	if !codec.Verify(body, crcRecorded) {
		return nil, &clawerrors.CorruptionError{Err: fmt.Errorf("footer crc mismatch")}
	}

	off := 0
	magic := binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	if magic != Magic {
		return nil, &clawerrors.CorruptionError{Err: fmt.Errorf("bad data file magic %x", magic)}
	}

	f := &Footer{}
	f.Version = binary.LittleEndian.Uint16(body[off : off+2])
	off += 2
	if f.Version != VersionUncompressed && f.Version != VersionZstd {
		return nil, &clawerrors.CorruptionError{Err: fmt.Errorf("unsupported data file version %d", f.Version)}
	}

	f.RecordCount = binary.LittleEndian.Uint32(body[off : off+4])
	off += 4

	fkLen := binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	f.FirstKey = append([]byte(nil), body[off:off+int(fkLen)]...)
	off += int(fkLen)

	lkLen := binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	f.LastKey = append([]byte(nil), body[off:off+int(lkLen)]...)
	off += int(lkLen)

	count := binary.LittleEndian.Uint32(body[off : off+4])
	off += 4

	f.BlockIndex = make([]BlockIndexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		blockOff := binary.LittleEndian.Uint64(body[off : off+8])
		off += 8
		klen := binary.LittleEndian.Uint32(body[off : off+4])
		off += 4
		key := append([]byte(nil), body[off:off+int(klen)]...)
		off += int(klen)
		f.BlockIndex = append(f.BlockIndex, BlockIndexEntry{Offset: blockOff, FirstKey: key})
	}

	return f, nil
}
