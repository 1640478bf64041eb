// Package codec frames every on-disk record ClawStore writes — WAL
// entries and the records inside data-file blocks alike — as
// len:u32 | crc32c:u32 | payload[len]. The CRC covers the payload only.
// Data-file footers are not framed; they carry their own CRC and length
// tail and only use Checksum.
package codec

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// FrameHeaderSize is the fixed length-prefix + checksum overhead of
// every framed record.
const FrameHeaderSize = 8

// castagnoliTable is the CRC32C table; hardware-accelerated on modern
// amd64/arm64 via the stdlib's internal SSE4.2/ARM64 fast path.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// Verify reports whether data matches the expected CRC32C.
func Verify(data []byte, expected uint32) bool {
	return Checksum(data) == expected
}

// EncodeFrame appends len(payload):u32 | crc32c(payload):u32 | payload
// to dst and returns the extended slice.
func EncodeFrame(dst []byte, payload []byte) []byte {
	var hdr [FrameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], Checksum(payload))
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	return dst
}

// ErrShortFrame names the condition of fewer than FrameHeaderSize
// bytes remaining where a frame should start — the logical end of file
// during recovery, or corruption when reading a data file whose footer
// promised more records.
var ErrShortFrame = io.ErrUnexpectedEOF

// PeekLength reads the payload length out of a frame header without
// validating the checksum, used by readers that need to size a buffer
// before reading the full frame.
func PeekLength(hdr []byte) uint32 {
	return binary.LittleEndian.Uint32(hdr[0:4])
}

// PeekChecksum reads the recorded CRC32C out of a frame header.
func PeekChecksum(hdr []byte) uint32 {
	return binary.LittleEndian.Uint32(hdr[4:8])
}
