// Package trickle implements spec §4.6: a background worker that
// periodically drains dirty index entries into a new immutable data
// file per table. Shape follows the teacher's background-sync
// goroutine (time.Ticker + a done channel, select loop) generalized
// from "flush the WAL's buffer" to "flush the index's dirty set".
package trickle

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawstore/clawstore/internal/datafile"
	"github.com/clawstore/clawstore/internal/index"
	"github.com/clawstore/clawstore/internal/metrics"
)

// PublishFunc is invoked once per table with entries flushed for that
// cycle, letting the caller (the engine) update its manifest and any
// negative cache.
type PublishFunc func(table string, id uint64, footer *datafile.Footer)

// TruncateFunc is invoked once per cycle with the snapshot LSN the
// cycle flushed through, letting the caller advance WAL truncation.
type TruncateFunc func(throughLSN uint64)

// Config configures the background worker.
type Config struct {
	// Interval is the cadence between cycles (spec default 1s).
	Interval time.Duration

	// DirtyBytesThreshold and DirtyBytesFunc are carried in the config
	// but not read by the worker: cycles run only on Interval's ticker
	// or through RunCycle, never early on a dirty-byte count.
	DirtyBytesThreshold int64
	DirtyBytesFunc      func() int64

	DataDir          string
	DataFileVersion  uint16
	FileIDFunc       func(table string) uint64
	Publish          PublishFunc
	TruncateWAL      TruncateFunc
	CurrentMaxLSN    func() uint64
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
}

// Worker runs the trickle loop for one engine.
type Worker struct {
	cfg Config
	idx *index.Index

	mu       sync.Mutex
	done     chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// New creates a worker bound to idx. Call Start to begin the
// background loop.
func New(cfg Config, idx *index.Index) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.DataFileVersion == 0 {
		cfg.DataFileVersion = datafile.VersionUncompressed
	}
	return &Worker{cfg: cfg, idx: idx}
}

// Start launches the background goroutine. Safe to call once; a
// second call before Stop is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.loop(w.done)
}

// Stop signals the loop to exit and waits for the in-flight cycle (if
// any) to finish — background workers always complete or discard the
// file they're writing before honoring shutdown, per spec §5.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	done := w.done
	w.mu.Unlock()

	close(done)
	w.wg.Wait()
}

func (w *Worker) loop(done chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.RunCycle(); err != nil {
				w.cfg.Logger.Error().Err(err).Msg("trickle cycle failed")
			}
		}
	}
}

// RunCycle executes exactly one trickle pass synchronously, per
// spec §4.6 steps 2-6. It backs both the ticker-driven loop and the
// engine's flush_now() test hook.
func (w *Worker) RunCycle() error {
	snapshotLSN := w.cfg.CurrentMaxLSN()

	flushedAny := false
	failedAny := false
	for _, table := range w.idx.Tables() {
		entries := w.idx.DirtySnapshot(table, snapshotLSN)
		if len(entries) == 0 {
			continue
		}

		sort.Slice(entries, func(i, j int) bool { return string(entries[i].Key) < string(entries[j].Key) })

		id := w.cfg.FileIDFunc(table)
		dir := stagingDir(w.cfg.DataDir, table)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			w.cfg.Logger.Warn().Str("table", table).Err(err).Msg("trickle mkdir failed, will retry")
			failedAny = true
			continue
		}
		path := filepath.Join(dir, stagingName(id))

		footer, err := datafile.Write(path, entries, w.cfg.DataFileVersion)
		if err != nil {
			// Discard before publication; entries stay dirty for the
			// next cycle, per spec §9's disk-full-during-trickle policy.
			w.cfg.Logger.Warn().Str("table", table).Err(err).Msg("trickle write failed, will retry")
			failedAny = true
			continue
		}

		if w.cfg.Publish != nil {
			w.cfg.Publish(table, id, footer)
		}
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ObserveDataFileBytes(int(footer.FooterOffset))
		}

		for _, e := range entries {
			w.idx.ClearDirtyIfUnchanged(table, e.Key, snapshotLSN)
		}
		flushedAny = true
	}

	if flushedAny {
		if w.cfg.TruncateWAL != nil && !failedAny {
			w.cfg.TruncateWAL(snapshotLSN)
		}
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ObserveTrickleFlush()
		}
	}

	return nil
}

func stagingDir(dataDir, table string) string {
	return filepath.Join(dataDir, "data", table)
}

func stagingName(id uint64) string {
	return datafile.FileName(id)
}
