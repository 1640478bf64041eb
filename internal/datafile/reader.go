package datafile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/codec"
	"github.com/clawstore/clawstore/internal/index"
)

// Reader gives point-lookup and range-scan access to one immutable
// data file. It is safe for concurrent use by multiple goroutines —
// every method opens its own *os.File handle, matching the teacher's
// "immutable files are always safely shared" read path.
type Reader struct {
	path   string
	footer *Footer
	size   int64
}

// Open loads and verifies a data file's footer (spec §4.4 step 3:
// verify the footer CRC on open; reject the file on mismatch).
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &clawerrors.IoError{Op: fmt.Sprintf("open data file %s", path), Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &clawerrors.IoError{Op: fmt.Sprintf("stat data file %s", path), Err: err}
	}
	size := info.Size()
	if size < 4 {
		return nil, &clawerrors.CorruptionError{File: path, Err: fmt.Errorf("file too small")}
	}

	var lenBuf [4]byte
	if _, err := f.ReadAt(lenBuf[:], size-4); err != nil {
		return nil, &clawerrors.IoError{Op: fmt.Sprintf("read footer length of %s", path), Err: err}
	}
	footerLen := binary.LittleEndian.Uint32(lenBuf[:])
	if int64(footerLen) > size {
		return nil, &clawerrors.CorruptionError{File: path, Err: fmt.Errorf("declared footer length %d exceeds file size %d", footerLen, size)}
	}

	footerBuf := make([]byte, footerLen)
	if _, err := f.ReadAt(footerBuf, size-int64(footerLen)); err != nil {
		return nil, &clawerrors.IoError{Op: fmt.Sprintf("read footer of %s", path), Err: err}
	}

	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		if ce, ok := err.(*clawerrors.CorruptionError); ok {
			ce.File = path
			return nil, ce
		}
		return nil, &clawerrors.CorruptionError{File: path, Err: err}
	}

	// DecodeFooter cannot recover FooterOffset — it isn't part of the
	// on-disk footer layout, only a convenience the writer fills in for
	// itself. Reconstruct it here so blockSpan's last-block span ends at
	// the footer rather than at zero.
	footer.FooterOffset = size - int64(footerLen)

	return &Reader{path: path, footer: footer, size: size}, nil
}

// Footer exposes the parsed footer (first/last key, record count, the
// sparse block index) without touching block data.
func (r *Reader) Footer() *Footer { return r.footer }

// Path returns the file's path on disk.
func (r *Reader) Path() string { return r.path }

// blockSpan returns the byte range [start, end) on disk that holds the
// block at blockIndex i, derived from the sparse index: a block's
// extent runs to the next block's offset, or to the footer for the
// last block.
func (r *Reader) blockSpan(i int) (start, end int64) {
	start = int64(r.footer.BlockIndex[i].Offset)
	if i+1 < len(r.footer.BlockIndex) {
		end = int64(r.footer.BlockIndex[i+1].Offset)
	} else {
		end = r.footer.FooterOffset
	}
	return start, end
}

// findBlock returns the index of the block that may contain key, via
// binary search over first keys, or -1 if key is out of range.
func (r *Reader) findBlock(key []byte) int {
	bi := r.footer.BlockIndex
	if len(bi) == 0 {
		return -1
	}
	n := sort.Search(len(bi), func(i int) bool {
		return bytes.Compare(bi[i].FirstKey, key) > 0
	})
	idx := n - 1
	if idx < 0 {
		return -1
	}
	return idx
}

// readBlock loads and decodes every record in block i.
func (r *Reader) readBlock(f *os.File, i int) ([]DecodedRecord, error) {
	start, end := r.blockSpan(i)
	raw := make([]byte, end-start)
	if _, err := f.ReadAt(raw, start); err != nil {
		return nil, &clawerrors.IoError{Op: fmt.Sprintf("read block %d of %s", i, r.path), Err: err}
	}

	payload := raw
	if r.footer.Version == VersionZstd {
		decompressed, err := decompressBlock(raw, TargetBlockSize)
		if err != nil {
			return nil, &clawerrors.CorruptionError{File: r.path, Err: fmt.Errorf("decompress block %d: %w", i, err)}
		}
		payload = decompressed
	}

	var out []DecodedRecord
	off := 0
	for off < len(payload) {
		if off+codec.FrameHeaderSize > len(payload) {
			return nil, &clawerrors.CorruptionError{File: r.path, Err: fmt.Errorf("truncated frame header in block %d", i)}
		}
		length := codec.PeekLength(payload[off : off+codec.FrameHeaderSize])
		crc := codec.PeekChecksum(payload[off : off+codec.FrameHeaderSize])
		frameStart := off + codec.FrameHeaderSize
		frameEnd := frameStart + int(length)
		if frameEnd > len(payload) {
			return nil, &clawerrors.CorruptionError{File: r.path, Err: fmt.Errorf("truncated frame body in block %d", i)}
		}
		body := payload[frameStart:frameEnd]
		if !codec.Verify(body, crc) {
			return nil, &clawerrors.CorruptionError{File: r.path, Err: fmt.Errorf("crc mismatch in block %d", i)}
		}
		rec, _, err := DecodeRecord(body)
		if err != nil {
			return nil, &clawerrors.CorruptionError{File: r.path, Err: fmt.Errorf("decode record in block %d: %w", i, err)}
		}
		out = append(out, rec)
		off = frameEnd
	}
	return out, nil
}

// Get performs a point lookup for key. ok is false when the key is
// absent from this file entirely (neither a value nor a tombstone).
func (r *Reader) Get(key []byte) (DecodedRecord, bool, error) {
	if bytes.Compare(key, r.footer.FirstKey) < 0 || bytes.Compare(key, r.footer.LastKey) > 0 {
		return DecodedRecord{}, false, nil
	}

	bi := r.findBlock(key)
	if bi < 0 {
		return DecodedRecord{}, false, nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return DecodedRecord{}, false, &clawerrors.IoError{Op: fmt.Sprintf("open data file %s", r.path), Err: err}
	}
	defer f.Close()

	records, err := r.readBlock(f, bi)
	if err != nil {
		return DecodedRecord{}, false, err
	}

	n := sort.Search(len(records), func(i int) bool {
		return bytes.Compare(records[i].Key, key) >= 0
	})
	if n < len(records) && bytes.Equal(records[n].Key, key) {
		return records[n], true, nil
	}
	return DecodedRecord{}, false, nil
}

// Scan returns every record with key in [lo, hi) (nil bound means
// unbounded on that side), in ascending key order. It is a full range
// read used by the engine's range cursor and by the compactor's merge
// input; both already operate a table's worth of data at a time.
func (r *Reader) Scan(lo, hi []byte) ([]DecodedRecord, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, &clawerrors.IoError{Op: fmt.Sprintf("open data file %s", r.path), Err: err}
	}
	defer f.Close()

	startBlock := 0
	if lo != nil {
		if b := r.findBlock(lo); b >= 0 {
			startBlock = b
		}
	}

	var out []DecodedRecord
	for i := startBlock; i < len(r.footer.BlockIndex); i++ {
		if hi != nil && bytes.Compare(r.footer.BlockIndex[i].FirstKey, hi) >= 0 {
			break
		}
		records, err := r.readBlock(f, i)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if lo != nil && bytes.Compare(rec.Key, lo) < 0 {
				continue
			}
			if hi != nil && bytes.Compare(rec.Key, hi) >= 0 {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// ToEntries converts decoded records into index.Entry values for
// merge with the in-memory index (the engine's read path) or for
// feeding a compaction's k-way merge. table is stamped onto every
// entry; LSN is left zero since data files do not retain per-record
// LSNs — file recency order (not LSN) resolves conflicts across data
// files, per spec §4.4's "newest data file wins" rule.
func ToEntries(table string, records []DecodedRecord) []index.Entry {
	out := make([]index.Entry, len(records))
	for i, rec := range records {
		out[i] = index.Entry{
			Table: table,
			Key:   rec.Key,
			State: rec.State,
			Value: rec.Value,
		}
	}
	return out
}
