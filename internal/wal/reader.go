package wal

import (
	"io"
	"os"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/codec"
)

// VisitFunc is called once per valid record during replay, in LSN
// order.
type VisitFunc func(rec *Record) error

// ReplayResult summarizes a completed replay pass.
type ReplayResult struct {
	MaxLSN        uint64
	RecordsRead   int
	TailTruncated bool
}

// Replay reads every segment under dir in starting-LSN order and
// invokes visit for each valid record. On the first invalid or
// partial record at the tail of the NEWEST segment, the segment is
// physically truncated at that offset and replay stops cleanly — this
// is the crash-recovery case. Corruption found anywhere other than
// the tail of the newest segment is unexpected and fatal.
func Replay(dir string, cfg Config, visit VisitFunc) (ReplayResult, error) {
	var result ReplayResult

	segs, err := listSegments(dir)
	if err != nil {
		return result, err
	}
	if len(segs) == 0 {
		return result, nil
	}

	maxRecordBytes := cfg.MaxRecordBytes
	if maxRecordBytes == 0 {
		maxRecordBytes = 1 << 30
	}

	wrappedVisit := func(rec *Record) error {
		if rec.LSN > result.MaxLSN {
			result.MaxLSN = rec.LSN
		}
		return visit(rec)
	}

	for i, startLSN := range segs {
		isNewest := i == len(segs)-1
		path := segmentPath(dir, startLSN)

		n, truncated, err := replaySegment(path, startLSN, maxRecordBytes, isNewest, wrappedVisit)
		result.RecordsRead += n
		if err != nil {
			return result, err
		}
		if truncated {
			result.TailTruncated = true
		}
	}

	return result, nil
}

func replaySegment(path string, declaredStartLSN uint64, maxRecordBytes uint32, isNewest bool, visit VisitFunc) (count int, truncated bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return 0, false, &clawerrors.IoError{Op: "open wal segment for replay", Err: err}
	}
	defer f.Close()

	startLSN, err := readSegmentHeader(f)
	if err != nil {
		return 0, false, &clawerrors.CorruptionError{File: path, Err: err}
	}
	if startLSN != declaredStartLSN {
		return 0, false, &clawerrors.CorruptionError{File: path, Err: io.ErrUnexpectedEOF}
	}

	offset := int64(segmentHeaderSize)
	hdrBuf := make([]byte, codec.FrameHeaderSize)

	for {
		n, err := io.ReadFull(f, hdrBuf)
		if err == io.EOF {
			return count, false, nil
		}
		if err != nil || n != len(hdrBuf) {
			return count, truncateTailOrFail(f, path, offset, isNewest, err)
		}

		payloadLen := codec.PeekLength(hdrBuf)
		if payloadLen > maxRecordBytes {
			return count, truncateTailOrFail(f, path, offset, isNewest, nil)
		}

		payload := make([]byte, payloadLen)
		n, err = io.ReadFull(f, payload)
		if err != nil || uint32(n) != payloadLen {
			return count, truncateTailOrFail(f, path, offset, isNewest, err)
		}

		expectedCRC := codec.PeekChecksum(hdrBuf)
		if !codec.Verify(payload, expectedCRC) {
			return count, truncateTailOrFail(f, path, offset, isNewest, nil)
		}

		rec, err := DecodeRecord(payload)
		if err != nil {
			return count, truncateTailOrFail(f, path, offset, isNewest, err)
		}

		if err := visit(rec); err != nil {
			return count, false, err
		}

		count++
		offset += int64(codec.FrameHeaderSize) + int64(payloadLen)
	}
}

// truncateTailOrFail implements spec §4.2's asymmetric tolerance: a
// short/corrupt record at the tail of the newest segment is a normal
// crash artifact and is truncated away; the same symptom anywhere else
// means an otherwise-sealed segment was damaged, which is fatal.
func truncateTailOrFail(f *os.File, path string, offset int64, isNewest bool, cause error) error {
	if !isNewest {
		if cause == nil {
			cause = io.ErrUnexpectedEOF
		}
		return &clawerrors.CorruptionError{File: path, Err: cause}
	}
	if err := f.Truncate(offset); err != nil {
		return &clawerrors.IoError{Op: "truncate corrupt wal tail", Err: err}
	}
	return nil
}
