// Package clawstore implements an embedded key-value storage engine:
// an in-memory index over an append-only write-ahead log, periodically
// trickled into immutable sorted on-disk data files, with a background
// compactor and crash recovery by WAL replay. See SPEC_FULL.md for the
// full design.
package clawstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/compactor"
	"github.com/clawstore/clawstore/internal/datafile"
	"github.com/clawstore/clawstore/internal/index"
	"github.com/clawstore/clawstore/internal/manifest"
	"github.com/clawstore/clawstore/internal/metrics"
	"github.com/clawstore/clawstore/internal/recovery"
	"github.com/clawstore/clawstore/internal/trickle"
	"github.com/clawstore/clawstore/internal/wal"
)

// Engine is one open ClawStore instance bound to a single data
// directory. All exported methods are safe for concurrent use.
type Engine struct {
	dir        string
	cfg        Config
	instanceID string

	lock *lockFile
	wal  *wal.Writer
	idx  *index.Index

	commitMu   sync.Mutex
	lsnCounter atomic.Uint64

	fileSetsMu sync.RWMutex
	fileSets   map[string]*datafile.Set

	negCachesMu sync.RWMutex
	negCaches   map[string]*negativeCache

	corruptMu sync.RWMutex
	corrupt   map[string]bool

	manifest *manifest.Manifest
	trickle  *trickle.Worker
	compact  *compactor.Compactor
	metrics  *metrics.Metrics

	closed atomic.Bool
}

// Open opens (creating if absent) a ClawStore data directory, replays
// every record in the WAL segments still on disk, and starts the
// background trickle worker (spec §4.8's open sequence).
func Open(dir string, cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = dir
	}
	if cfg.MaxKeyBytes <= 0 || cfg.MaxValueBytes <= 0 {
		defaults := DefaultConfig(dir)
		if cfg.MaxKeyBytes <= 0 {
			cfg.MaxKeyBytes = defaults.MaxKeyBytes
		}
		if cfg.MaxValueBytes <= 0 {
			cfg.MaxValueBytes = defaults.MaxValueBytes
		}
	}
	if cfg.TrickleIntervalMS <= 0 {
		cfg.TrickleIntervalMS = 1000
	}
	if cfg.WALSegmentBytes <= 0 {
		cfg.WALSegmentBytes = wal.DefaultSegmentBytes
	}
	if cfg.BlockCompression == 0 {
		cfg.BlockCompression = datafile.VersionUncompressed
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &clawerrors.IoError{Op: "mkdir data directory", Err: err}
	}

	lock, err := acquireLock(filepath.Join(dir, "LOCK"))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:        dir,
		cfg:        cfg,
		instanceID: uuid.NewString(),
		lock:       lock,
		idx:        index.New(0),
		fileSets:   make(map[string]*datafile.Set),
		negCaches:  make(map[string]*negativeCache),
		corrupt:    make(map[string]bool),
		metrics:    metrics.New(cfg.Metrics),
	}

	walCfg := wal.DefaultConfig(filepath.Join(dir, "wal"))
	walCfg.SegmentBytes = cfg.WALSegmentBytes
	walCfg.SyncMode = cfg.SyncMode

	result, err := recovery.Run(dir, walCfg, e.idx, e.unlinkDataFile)
	if err != nil {
		lock.release()
		return nil, err
	}
	e.fileSets = result.FileSets
	e.lsnCounter.Store(result.MaxLSN)

	cfg.Logger.Info().
		Str("instance_id", e.instanceID).
		Uint64("recovered_lsn", result.MaxLSN).
		Int("records_replayed", result.RecordsRead).
		Bool("tail_truncated", result.TailTruncated).
		Msg("clawstore: recovery complete")

	w, err := wal.NewWriter(walCfg)
	if err != nil {
		lock.release()
		return nil, err
	}
	e.wal = w

	if cfg.UseManifest {
		m, err := manifest.Open(filepath.Join(dir, "MANIFEST"))
		if err != nil {
			w.Close()
			lock.release()
			return nil, err
		}
		e.manifest = m
	}

	e.trickle = trickle.New(trickle.Config{
		Interval:        cfg.trickleInterval(),
		DataDir:         dir,
		DataFileVersion: cfg.BlockCompression,
		FileIDFunc:      func(table string) uint64 { return e.fileSetFor(table).NextID() },
		Publish:         e.onTricklePublish,
		TruncateWAL:     e.truncateWAL,
		CurrentMaxLSN:   func() uint64 { return e.lsnCounter.Load() },
		Logger:          cfg.Logger,
		Metrics:         e.metrics,
	}, e.idx)
	e.trickle.Start()

	e.compact = compactor.New(compactor.Config{
		DataDir:            dir,
		DataFileVersion:    cfg.BlockCompression,
		FileCountThreshold: cfg.CompactionFileCountThreshold,
		DeadRatioThreshold: cfg.CompactionDeadRatioThreshold,
		Publish:            e.onCompactionPublish,
		Unlink:             e.onCompactionUnlink,
		Logger:             cfg.Logger,
		Metrics:            e.metrics,
	})

	return e, nil
}

// Close stops the background trickle worker, flushes and closes the
// WAL, closes the manifest, and releases the directory lock.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.trickle.Stop()

	var firstErr error
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.manifest != nil {
		if err := e.manifest.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) fileSetFor(table string) *datafile.Set {
	e.fileSetsMu.RLock()
	set, ok := e.fileSets[table]
	e.fileSetsMu.RUnlock()
	if ok {
		return set
	}

	e.fileSetsMu.Lock()
	defer e.fileSetsMu.Unlock()
	if set, ok := e.fileSets[table]; ok {
		return set
	}
	set = datafile.NewSet(1, e.unlinkDataFile)
	e.fileSets[table] = set
	return set
}

func (e *Engine) negCacheFor(table string) *negativeCache {
	e.negCachesMu.RLock()
	c, ok := e.negCaches[table]
	e.negCachesMu.RUnlock()
	if ok {
		return c
	}

	e.negCachesMu.Lock()
	defer e.negCachesMu.Unlock()
	if c, ok := e.negCaches[table]; ok {
		return c
	}
	c = newNegativeCache()
	e.negCaches[table] = c
	return c
}

func (e *Engine) unlinkDataFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &clawerrors.IoError{Op: fmt.Sprintf("unlink data file %s", path), Err: err}
	}
	return nil
}

func (e *Engine) markCorrupted(table string) {
	e.corruptMu.Lock()
	e.corrupt[table] = true
	e.corruptMu.Unlock()
}

func (e *Engine) isCorrupted(table string) bool {
	e.corruptMu.RLock()
	defer e.corruptMu.RUnlock()
	return e.corrupt[table]
}

// onTricklePublish registers a freshly-flushed data file into its
// table's live file set (trickle itself only writes bytes to disk; it
// has no notion of the engine's refcounted Set) and records it in the
// manifest.
func (e *Engine) onTricklePublish(table string, id uint64, footer *datafile.Footer) {
	path := datafile.Path(filepath.Join(e.dir, "data"), table, id)
	reader, err := datafile.Open(path)
	if err != nil {
		e.cfg.Logger.Error().Err(err).Str("table", table).Msg("clawstore: failed to reopen trickled file")
		return
	}
	e.fileSetFor(table).Publish(id, path, reader)
	e.recordManifest(table, id, footer)
	e.negCacheFor(table).invalidate()
}

// onCompactionPublish runs after the compactor has already updated its
// table's Set directly (via Supersede); this hook only maintains the
// manifest and negative cache.
func (e *Engine) onCompactionPublish(table string, id uint64, footer *datafile.Footer) {
	e.recordManifest(table, id, footer)
	e.negCacheFor(table).invalidate()
}

func (e *Engine) onCompactionUnlink(table string, id uint64) {
	if e.manifest != nil {
		if err := e.manifest.UnlinkFile(table, id); err != nil {
			e.cfg.Logger.Warn().Err(err).Str("table", table).Uint64("file_id", id).Msg("clawstore: manifest unlink failed")
		}
	}
}

func (e *Engine) recordManifest(table string, id uint64, footer *datafile.Footer) {
	if e.manifest == nil {
		return
	}
	err := e.manifest.PublishFile(table, manifest.FileSummary{
		ID:          id,
		RecordCount: footer.RecordCount,
		FirstKey:    footer.FirstKey,
		LastKey:     footer.LastKey,
		Version:     footer.Version,
	})
	if err != nil {
		e.cfg.Logger.Warn().Err(err).Str("table", table).Uint64("file_id", id).Msg("clawstore: manifest publish failed")
	}
}

func (e *Engine) truncateWAL(throughLSN uint64) {
	if e.manifest != nil {
		if err := e.manifest.SetTruncationWatermark(throughLSN); err != nil {
			e.cfg.Logger.Warn().Err(err).Msg("clawstore: manifest watermark update failed")
		}
	}
	removed, err := wal.TruncateBefore(filepath.Join(e.dir, "wal"), throughLSN, e.wal.CurrentSegmentPath())
	if err != nil {
		e.cfg.Logger.Warn().Err(err).Msg("clawstore: wal truncation failed")
		return
	}
	if removed > 0 {
		e.cfg.Logger.Debug().Int("segments_removed", removed).Uint64("through_lsn", throughLSN).Msg("clawstore: wal truncated")
	}
}

// commit is the group-commit path shared by Transaction.Commit and the
// Put/Delete convenience wrappers. commitMu only guards LSN assignment
// and the (cheap) WAL buffer append; WaitDurable is called outside the
// lock so concurrent commits' fsyncs coalesce via the writer's own
// leader election instead of being serialized here.
func (e *Engine) commit(ops []*wal.Record) error {
	if e.closed.Load() {
		return &clawerrors.ClosedError{Resource: "engine"}
	}

	e.commitMu.Lock()
	for _, op := range ops {
		op.LSN = e.lsnCounter.Add(1)
	}
	ticket, err := e.wal.AppendBatch(ops)
	e.commitMu.Unlock()
	if err != nil {
		return err
	}

	start := time.Now()
	if err := e.wal.WaitDurable(ticket); err != nil {
		return err
	}
	e.metrics.ObserveWALFsync(time.Since(start).Seconds())

	for _, op := range ops {
		switch op.Op {
		case wal.OpPut:
			e.idx.Put(op.Table, op.Key, op.Value, op.LSN)
		case wal.OpDelete:
			e.idx.Delete(op.Table, op.Key, op.LSN)
		}
	}
	return nil
}

// Get returns the current value for (table, key). found is false if
// the key is absent or has been deleted. The index is consulted first
// and always wins (spec invariant 1); on an index miss, live data
// files are probed newest-to-oldest.
func (e *Engine) Get(table string, key []byte) (value []byte, found bool, err error) {
	if e.isCorrupted(table) {
		return nil, false, &clawerrors.TableCorruptedError{Table: table}
	}

	if entry, ok := e.idx.Get(table, key); ok {
		if entry.State == index.StateTombstone {
			return nil, false, nil
		}
		return entry.Value, true, nil
	}

	negCache := e.negCacheFor(table)
	if negCache.knownAbsent(key) {
		return nil, false, nil
	}

	handles := e.fileSetFor(table).Snapshot()
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	for _, h := range handles {
		rec, ok, gerr := h.Get(key)
		if gerr != nil {
			e.markCorrupted(table)
			return nil, false, gerr
		}
		if !ok {
			continue
		}
		if rec.State == index.StateTombstone {
			return nil, false, nil
		}
		return rec.Value, true, nil
	}

	negCache.markAbsent(key)
	return nil, false, nil
}

// Range returns every visible (non-deleted) key in [lo, hi) across the
// index and every live data file, newest value per key winning (spec
// §4.5). A nil lo or hi is unbounded on that side.
func (e *Engine) Range(table string, lo, hi []byte) ([]KV, error) {
	if e.isCorrupted(table) {
		return nil, &clawerrors.TableCorruptedError{Table: table}
	}

	sources := []rangeSource{{entries: e.idx.Range(table, lo, hi), rank: indexRank}}

	handles := e.fileSetFor(table).Snapshot()
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	for _, h := range handles {
		records, err := h.Scan(lo, hi)
		if err != nil {
			e.markCorrupted(table)
			return nil, err
		}
		if len(records) == 0 {
			continue
		}
		sources = append(sources, rangeSource{
			entries: datafile.ToEntries(table, records),
			rank:    fileRank(h.Path()),
		})
	}

	return mergeRange(sources), nil
}

// FlushNow synchronously runs one trickle cycle followed by a
// compaction pass for any table that has crossed its file-count
// threshold. Intended for tests and operational tooling that need a
// deterministic flush point rather than waiting on the ticker.
func (e *Engine) FlushNow() error {
	if err := e.trickle.RunCycle(); err != nil {
		return err
	}
	for _, table := range e.idx.Tables() {
		set := e.fileSetFor(table)
		if e.compact.ShouldCompact(set) {
			if err := e.compact.CompactTable(table, set); err != nil {
				return err
			}
		}
	}
	return nil
}

// VerifyTable reads and checksum-verifies every block of every live
// data file for table, returning the first corruption encountered. A
// nil result means every byte of every published file for the table
// checksums cleanly.
func (e *Engine) VerifyTable(table string) error {
	handles := e.fileSetFor(table).Snapshot()
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	for _, h := range handles {
		if _, err := h.Scan(nil, nil); err != nil {
			e.markCorrupted(table)
			return err
		}
	}
	return nil
}

// InstanceID returns the random identifier generated for this open
// engine instance, useful for correlating log lines across tables and
// background workers.
func (e *Engine) InstanceID() string { return e.instanceID }

// CompactAll forces a compaction pass over every table regardless of
// the configured file-count/dead-ratio thresholds, for operational
// tooling that wants a deterministic "compact now" rather than waiting
// for FlushNow's file-count check. Tables with fewer than two live
// files are left untouched (the compactor no-ops for those).
func (e *Engine) CompactAll() error {
	for _, table := range e.Tables() {
		set := e.fileSetFor(table)
		if err := e.compact.CompactTable(table, set); err != nil {
			return fmt.Errorf("compact table %q: %w", table, err)
		}
	}
	return nil
}

// Tables returns every table name the engine currently knows about,
// from both the in-memory index and the on-disk file sets, sorted.
func (e *Engine) Tables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range e.idx.Tables() {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	e.fileSetsMu.RLock()
	for t := range e.fileSets {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	e.fileSetsMu.RUnlock()
	sort.Strings(out)
	return out
}

// FileStat describes one live data file for operational tooling (the
// `clawstore stat` subcommand).
type FileStat struct {
	ID          uint64
	Path        string
	SizeBytes   int64
	RecordCount uint32
	FirstKey    []byte
	LastKey     []byte
}

// TableStats returns per-file stats for every live data file of table,
// newest file first.
func (e *Engine) TableStats(table string) ([]FileStat, error) {
	handles := e.fileSetFor(table).Snapshot()
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	out := make([]FileStat, 0, len(handles))
	for _, h := range handles {
		info, err := os.Stat(h.Path())
		if err != nil {
			return nil, &clawerrors.IoError{Op: fmt.Sprintf("stat data file %s", h.Path()), Err: err}
		}
		footer := h.Footer()
		out = append(out, FileStat{
			ID:          uint64(fileRank(h.Path())),
			Path:        h.Path(),
			SizeBytes:   info.Size(),
			RecordCount: footer.RecordCount,
			FirstKey:    footer.FirstKey,
			LastKey:     footer.LastKey,
		})
	}
	return out, nil
}

// fileRank derives a data file's recency rank from its id, encoded in
// its filename, matching the compactor's newest-file-wins ordering.
func fileRank(path string) int {
	base := filepath.Base(path)
	var id uint64
	fmt.Sscanf(base, "%d.sst", &id)
	return int(id)
}
