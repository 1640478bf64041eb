// Package recovery implements spec §4.8: on open, enumerate data
// files, load and verify their footers, then replay the WAL into the
// index. It is pure orchestration over internal/datafile and
// internal/wal — no policy of its own beyond the order those two steps
// happen in and what counts as fatal.
package recovery

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/datafile"
	"github.com/clawstore/clawstore/internal/index"
	"github.com/clawstore/clawstore/internal/wal"
)

// Result summarizes one recovery pass.
type Result struct {
	FileSets      map[string]*datafile.Set
	MaxLSN        uint64
	RecordsRead   int
	TailTruncated bool
}

// Run enumerates data/TABLE/*.sst under dataDir, opens and verifies
// every footer (rejecting recovery outright on a CRC failure per spec
// §6's exit conditions), then replays every WAL segment under walCfg's
// directory into idx. unlinkFn is threaded into each table's
// datafile.Set so later compaction/unlink calls share one policy.
func Run(dataDir string, walCfg wal.Config, idx *index.Index, unlinkFn func(path string) error) (*Result, error) {
	result := &Result{FileSets: make(map[string]*datafile.Set)}

	if err := loadDataFiles(dataDir, result, unlinkFn); err != nil {
		return nil, err
	}

	maxLSN, recordsRead, tailTruncated, err := replayWAL(walCfg, idx)
	if err != nil {
		return nil, err
	}
	result.MaxLSN = maxLSN
	result.RecordsRead = recordsRead
	result.TailTruncated = tailTruncated

	return result, nil
}

func loadDataFiles(dataDir string, result *Result, unlinkFn func(path string) error) error {
	dataRoot := filepath.Join(dataDir, "data")
	entries, err := os.ReadDir(dataRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &clawerrors.IoError{Op: "list data directory", Err: err}
	}

	for _, tableEntry := range entries {
		if !tableEntry.IsDir() {
			continue
		}
		table := tableEntry.Name()
		tableDir := filepath.Join(dataRoot, table)

		files, err := os.ReadDir(tableDir)
		if err != nil {
			return &clawerrors.IoError{Op: "list table data files", Err: err}
		}

		set := datafile.NewSet(1, unlinkFn)
		for _, fe := range files {
			if fe.IsDir() || !strings.HasSuffix(fe.Name(), ".sst") {
				continue
			}
			id, err := parseFileID(fe.Name())
			if err != nil {
				continue
			}
			path := filepath.Join(tableDir, fe.Name())
			reader, err := datafile.Open(path)
			if err != nil {
				// Footer CRC failure (or any other corruption) is fatal
				// for engine open per spec §6's exit conditions.
				if ce, ok := err.(*clawerrors.CorruptionError); ok {
					ce.Table = table
					return ce
				}
				return err
			}
			set.Register(id, path, reader)
		}
		result.FileSets[table] = set
	}

	return nil
}

func parseFileID(name string) (uint64, error) {
	base := strings.TrimSuffix(name, ".sst")
	n, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func replayWAL(cfg wal.Config, idx *index.Index) (maxLSN uint64, recordsRead int, tailTruncated bool, err error) {
	result, err := wal.Replay(cfg.DirPath, cfg, func(rec *wal.Record) error {
		switch rec.Op {
		case wal.OpPut:
			idx.Put(rec.Table, rec.Key, rec.Value, rec.LSN)
		case wal.OpDelete:
			idx.Delete(rec.Table, rec.Key, rec.LSN)
		}
		return nil
	})
	if err != nil {
		return 0, 0, false, err
	}
	return result.MaxLSN, result.RecordsRead, result.TailTruncated, nil
}
