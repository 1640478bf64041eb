package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/codec"
)

// Writer is the single active WAL writer for a directory. Commits from
// multiple goroutines group through appendMu for the (cheap) buffer
// append and coalesce behind a single leader for the (expensive)
// durable flush — group commit per spec §4.2/§9.
type Writer struct {
	dir string
	cfg Config

	appendMu    sync.Mutex
	file        *os.File
	bw          *bufio.Writer
	segStartLSN uint64
	segBytes    int64
	ticket      uint64
	closed      bool

	syncMu       sync.Mutex
	syncCond     *sync.Cond
	syncing      bool
	syncedTicket uint64
	lastErr      error

	fsyncCount uint64
	fsyncNanos uint64
}

// NewWriter opens (or creates) the WAL directory at cfg.DirPath. If
// segments already exist, the writer resumes appending to the last
// one — recovery is expected to have already truncated any corrupt
// tail before the writer is constructed.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.SegmentBytes <= 0 {
		cfg.SegmentBytes = DefaultSegmentBytes
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 * 1024
	}

	if err := os.MkdirAll(cfg.DirPath, 0o755); err != nil {
		return nil, &clawerrors.IoError{Op: "mkdir wal dir", Err: err}
	}

	w := &Writer{dir: cfg.DirPath, cfg: cfg}
	w.syncCond = sync.NewCond(&w.syncMu)

	segs, err := listSegments(cfg.DirPath)
	if err != nil {
		return nil, &clawerrors.IoError{Op: "list wal segments", Err: err}
	}

	if len(segs) > 0 {
		lastLSN := segs[len(segs)-1]
		path := segmentPath(cfg.DirPath, lastLSN)
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, &clawerrors.IoError{Op: "open wal segment", Err: err}
		}
		startLSN, err := readSegmentHeader(f)
		if err != nil {
			f.Close()
			return nil, &clawerrors.CorruptionError{File: path, Err: err}
		}
		size, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return nil, &clawerrors.IoError{Op: "seek wal segment", Err: err}
		}

		w.file = f
		w.bw = bufio.NewWriterSize(f, cfg.BufferSize)
		w.segStartLSN = startLSN
		w.segBytes = size
	}

	return w, nil
}

// Append frames and appends one record, returning a ticket callers
// pass to WaitDurable to block until that record (and every record
// appended before it) is durable.
func (w *Writer) Append(rec *Record) (uint64, error) {
	payload := acquireBuffer()
	*payload = rec.Encode((*payload)[:0])

	frame := acquireBuffer()
	*frame = codec.EncodeFrame((*frame)[:0], *payload)
	releaseBuffer(payload)

	w.appendMu.Lock()
	defer w.appendMu.Unlock()

	if w.closed {
		releaseBuffer(frame)
		return 0, &clawerrors.ClosedError{Resource: "wal writer"}
	}

	if w.file == nil {
		if err := w.createSegmentLocked(rec.LSN); err != nil {
			releaseBuffer(frame)
			return 0, err
		}
	} else if w.segBytes+int64(len(*frame)) > w.cfg.SegmentBytes {
		if err := w.rotateLocked(rec.LSN); err != nil {
			releaseBuffer(frame)
			return 0, err
		}
	}

	n, err := w.bw.Write(*frame)
	releaseBuffer(frame)
	if err != nil {
		return 0, &clawerrors.IoError{Op: "wal append", Err: err}
	}
	w.segBytes += int64(n)
	w.ticket++
	return w.ticket, nil
}

// AppendBatch frames and appends every record in a single transaction,
// returning a ticket for the last one — waiting on it waits for the
// whole batch. Each record takes the append lock on its own, so the
// records land back to back only when callers serialize AppendBatch
// calls, as the engine does under its commit lock.
func (w *Writer) AppendBatch(records []*Record) (uint64, error) {
	var ticket uint64
	for _, rec := range records {
		t, err := w.Append(rec)
		if err != nil {
			return 0, err
		}
		ticket = t
	}
	return ticket, nil
}

func (w *Writer) createSegmentLocked(startLSN uint64) error {
	path := segmentPath(w.dir, startLSN)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &clawerrors.IoError{Op: "create wal segment", Err: err}
	}
	if err := writeSegmentHeader(f, startLSN); err != nil {
		f.Close()
		return &clawerrors.IoError{Op: "write wal segment header", Err: err}
	}
	w.file = f
	w.bw = bufio.NewWriterSize(f, w.cfg.BufferSize)
	w.segStartLSN = startLSN
	w.segBytes = segmentHeaderSize
	return nil
}

// rotateLocked must be called holding appendMu. It flushes and
// durably syncs the outgoing segment before creating the next one, so
// every segment file on disk (other than the active one) is always
// complete and fully durable — recovery never needs to worry about a
// "previous" segment being torn.
func (w *Writer) rotateLocked(nextStartLSN uint64) error {
	if err := w.syncLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return &clawerrors.IoError{Op: "close rotated wal segment", Err: err}
	}
	return w.createSegmentLocked(nextStartLSN)
}

// syncLocked flushes the bufio buffer and issues the configured
// durability barrier. Must be called holding appendMu.
func (w *Writer) syncLocked() error {
	if w.cfg.SyncMode == SyncNone {
		return w.bw.Flush()
	}

	if err := w.bw.Flush(); err != nil {
		return &clawerrors.IoError{Op: "wal flush", Err: err}
	}

	start := time.Now()
	var err error
	if w.cfg.SyncMode == SyncDataOnly {
		err = dataOnlyDurableFlush(w.file)
	} else {
		err = fullDurableFlush(w.file)
	}
	atomic.AddUint64(&w.fsyncCount, 1)
	atomic.AddUint64(&w.fsyncNanos, uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		return &clawerrors.IoError{Op: "wal fsync", Err: err}
	}
	return nil
}

// WaitDurable blocks until every record up to and including ticket is
// durable, electing a single goroutine per round to perform the
// flush+fsync on behalf of everyone waiting.
func (w *Writer) WaitDurable(ticket uint64) error {
	if w.cfg.SyncMode == SyncNone {
		// Durability is explicitly disabled; still flush to the OS
		// buffer so Get() after Commit() sees consistent file state
		// in tests, but do not wait on fsync.
		w.appendMu.Lock()
		err := w.bw.Flush()
		w.appendMu.Unlock()
		return err
	}

	w.syncMu.Lock()
	for w.syncedTicket < ticket {
		if !w.syncing {
			w.syncing = true
			w.syncMu.Unlock()

			w.appendMu.Lock()
			covered := w.ticket
			err := w.syncLocked()
			w.appendMu.Unlock()

			w.syncMu.Lock()
			w.syncing = false
			w.lastErr = err
			if err == nil && covered > w.syncedTicket {
				w.syncedTicket = covered
			}
			w.syncCond.Broadcast()
		} else {
			w.syncCond.Wait()
		}
	}
	err := w.lastErr
	w.syncMu.Unlock()
	return err
}

// Stats reports cumulative fsync counters for the instrumentation
// hook spec §8 scenario 6 asks for.
type Stats struct {
	FsyncCount uint64
	FsyncNanos uint64
}

func (w *Writer) Stats() Stats {
	return Stats{
		FsyncCount: atomic.LoadUint64(&w.fsyncCount),
		FsyncNanos: atomic.LoadUint64(&w.fsyncNanos),
	}
}

// CurrentSegmentPath returns the path of the segment currently being
// appended to, or "" if no record has been written yet.
func (w *Writer) CurrentSegmentPath() string {
	w.appendMu.Lock()
	defer w.appendMu.Unlock()
	if w.file == nil {
		return ""
	}
	return filepath.Clean(w.file.Name())
}

// TruncateBefore deletes every sealed segment whose maximum possible
// LSN is strictly less than upToLSN — i.e. every segment whose
// starting LSN is less than the starting LSN of the segment containing
// upToLSN. Truncation is advisory per spec §4.2: losing the
// opportunity wastes space, never correctness. The active segment is
// never removed.
func TruncateBefore(dir string, upToLSN uint64, activeSegmentPath string) (removed int, err error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	if len(segs) <= 1 {
		return 0, nil
	}

	// Find the segment containing upToLSN: the last one whose
	// startLSN <= upToLSN. Every earlier segment is safe to remove.
	keepFrom := 0
	for i, lsn := range segs {
		if lsn <= upToLSN {
			keepFrom = i
		}
	}

	for i := 0; i < keepFrom; i++ {
		path := segmentPath(dir, segs[i])
		if path == activeSegmentPath {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, &clawerrors.IoError{Op: fmt.Sprintf("truncate wal segment %s", path), Err: err}
		}
		removed++
	}
	return removed, nil
}

// Close flushes and durably syncs the active segment, then closes it.
func (w *Writer) Close() error {
	w.appendMu.Lock()
	defer w.appendMu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.file == nil {
		return nil
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
