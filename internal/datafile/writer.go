package datafile

import (
	"bytes"
	"fmt"
	"path/filepath"

	natomic "github.com/natefinch/atomic"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/codec"
	"github.com/clawstore/clawstore/internal/index"
)

// FileName returns the canonical name for a data file id, per spec §6
// (data/TABLE/NNNNNNNN.sst).
func FileName(id uint64) string {
	return fmt.Sprintf("%08d.sst", id)
}

// Path joins dataDir, table and a file id into the canonical path.
func Path(dataDir, table string, id uint64) string {
	return filepath.Join(dataDir, table, FileName(id))
}

// Write streams a sorted iterator of (key, state) for one table into a
// new immutable data file at path, following spec §4.4's write path:
// stream into ~4 KiB blocks recording each block's first key, append
// the footer, fsync, then publish via an atomic rename. entries MUST
// already be sorted ascending by key with no duplicate keys (callers —
// trickle and the compactor — are responsible for producing that).
func Write(path string, entries []index.Entry, version uint16) (*Footer, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("datafile: refusing to write an empty data file")
	}

	var buf bytes.Buffer
	var blockIndex []BlockIndexEntry
	var blockBuf []byte
	blockStartOffset := int64(0)

	flushBlock := func() error {
		if len(blockBuf) == 0 {
			return nil
		}
		payload := blockBuf
		if version == VersionZstd {
			compressed, err := compressBlock(blockBuf)
			if err != nil {
				return err
			}
			payload = compressed
		}
		buf.Write(payload)
		blockBuf = nil
		return nil
	}

	for i, e := range entries {
		if len(blockBuf) == 0 {
			blockIndex = append(blockIndex, BlockIndexEntry{
				Offset:   uint64(blockStartOffset),
				FirstKey: append([]byte(nil), e.Key...),
			})
		}

		rec := EncodeRecord(e.Key, e.State, e.Value)
		blockBuf = codec.EncodeFrame(blockBuf, rec)

		rolledOver := len(blockBuf) >= TargetBlockSize
		isLast := i == len(entries)-1
		if rolledOver || isLast {
			if err := flushBlock(); err != nil {
				return nil, err
			}
			blockStartOffset = int64(buf.Len())
		}
	}

	footer := &Footer{
		Version:      version,
		RecordCount:  uint32(len(entries)),
		FirstKey:     append([]byte(nil), entries[0].Key...),
		LastKey:      append([]byte(nil), entries[len(entries)-1].Key...),
		BlockIndex:   blockIndex,
		FooterOffset: int64(buf.Len()),
	}
	buf.Write(footer.Encode())

	if err := natomic.WriteFile(path, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, &clawerrors.IoError{Op: fmt.Sprintf("publish data file %s", path), Err: err}
	}

	return footer, nil
}
