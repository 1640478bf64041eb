// Package compactor implements spec §4.7: merge overlapping data
// files for one table into a single output, keeping the newest record
// per key and dropping tombstones that are safe to drop, then publish
// the output and unlink the inputs atomically. Shape is grounded on
// the teacher's StorageEngine.Vacuum (decide keep/drop per record,
// write to a fresh file, then swap file sets and unlink the old ones)
// generalized from a single heap-segment rewrite to an N-way sorted
// merge of immutable files.
package compactor

import (
	"container/heap"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/datafile"
	"github.com/clawstore/clawstore/internal/index"
	"github.com/clawstore/clawstore/internal/metrics"
)

// PublishFunc and UnlinkFunc let the caller (the engine) keep its
// manifest in sync with a compaction's outcome.
type PublishFunc func(table string, id uint64, footer *datafile.Footer)
type UnlinkFunc func(table string, id uint64)

// Config configures compaction trigger thresholds and wiring.
type Config struct {
	DataDir            string
	DataFileVersion    uint16
	FileCountThreshold int
	DeadRatioThreshold float64
	Publish            PublishFunc
	Unlink             UnlinkFunc
	Logger             zerolog.Logger
	Metrics            *metrics.Metrics
}

// Compactor runs on-demand compaction passes for one engine. Unlike
// trickle it has no loop of its own — the engine invokes it from
// FlushNow (when ShouldCompact reports true) and from CompactAll; no
// background goroutine runs compaction.
type Compactor struct {
	cfg Config
}

func New(cfg Config) *Compactor {
	return &Compactor{cfg: cfg}
}

// ShouldCompact reports whether table's file set holds at least
// FileCountThreshold live files (4 when unset). DeadRatioThreshold is
// not consulted.
func (c *Compactor) ShouldCompact(set *datafile.Set) bool {
	threshold := c.cfg.FileCountThreshold
	if threshold <= 0 {
		threshold = 4
	}
	return set.Len() >= threshold
}

// CompactTable merges every file currently live in set for table into
// one output file, publishes it, and unlinks the inputs. Compacting
// the entire set at once (rather than a partial overlapping subset)
// means there is never a file "outside the input" that could still
// need a tombstone kept alive, so every tombstone surviving the merge
// can be dropped — satisfying spec §4.7's dead-tombstone-elimination
// rule exactly, at the cost of a coarser compaction granularity than a
// range-overlap selector would give. A set with fewer than two files is
// left unchanged, and so is a set whose merge leaves no live record
// (every key a tombstone): no output is written and the input files,
// tombstones included, stay live.
func (c *Compactor) CompactTable(table string, set *datafile.Set) error {
	handles := set.Snapshot()
	if len(handles) < 2 {
		for _, h := range handles {
			h.Release()
		}
		return nil
	}
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	merged, err := mergeHandles(handles)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	newID := set.NextID()
	dir := filepath.Join(c.cfg.DataDir, "data", table)
	stagingPath := filepath.Join(dir, fmt.Sprintf(".compact-%s.sst", uuid.NewString()))

	footer, err := datafile.Write(stagingPath, merged, c.cfg.DataFileVersion)
	if err != nil {
		return err
	}

	finalPath := datafile.Path(filepath.Join(c.cfg.DataDir, "data"), table, newID)
	if err := renameInto(stagingPath, finalPath); err != nil {
		return err
	}

	reader, err := datafile.Open(finalPath)
	if err != nil {
		return err
	}

	unlinkedIDs := make([]uint64, 0, len(handles))
	for _, h := range handles {
		unlinkedIDs = append(unlinkedIDs, handleID(h))
	}

	set.Supersede(unlinkedIDs, newID, finalPath, reader)

	if c.cfg.Publish != nil {
		c.cfg.Publish(table, newID, footer)
	}
	for _, id := range unlinkedIDs {
		if c.cfg.Unlink != nil {
			c.cfg.Unlink(table, id)
		}
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveCompaction()
		c.cfg.Metrics.ObserveDataFileBytes(int(footer.FooterOffset))
	}

	return nil
}

// handleID recovers a snapshot handle's originating file id. Set
// doesn't expose it directly on SnapshotHandle today beyond Reader, so
// we derive it from the reader's own path (named by id).
func handleID(h datafile.SnapshotHandle) uint64 {
	return idFromPath(h.Path())
}

func idFromPath(path string) uint64 {
	base := filepath.Base(path)
	var id uint64
	fmt.Sscanf(base, "%d.sst", &id)
	return id
}

func renameInto(staging, final string) error {
	if err := os.Rename(staging, final); err != nil {
		return &clawerrors.IoError{Op: fmt.Sprintf("publish compacted file %s", final), Err: err}
	}
	return nil
}

// mergeEntry is one candidate record during the k-way merge, tagged
// with the source file's recency rank so ties resolve newest-wins.
type mergeEntry struct {
	rec  datafile.DecodedRecord
	rank int // higher rank = newer file
}

type mergeHeapItem struct {
	entry    mergeEntry
	handleIx int
	recIx    int
}

type mergeHeap []mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := compareBytes(h[i].entry.rec.Key, h[j].entry.rec.Key)
	if c != 0 {
		return c < 0
	}
	return h[i].entry.rank > h[j].entry.rank
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// mergeHandles performs the k-way ordered merge across every handle's
// full record set, keeping the newest (highest file id / rank) record
// per key and dropping tombstones (full-set compaction, see
// CompactTable's doc comment for why that's always safe here).
func mergeHandles(handles []datafile.SnapshotHandle) ([]index.Entry, error) {
	allRecords := make([][]datafile.DecodedRecord, len(handles))
	ranks := make([]int, len(handles))
	for i, h := range handles {
		recs, err := h.Scan(nil, nil)
		if err != nil {
			return nil, err
		}
		allRecords[i] = recs
		ranks[i] = int(idFromPath(h.Path()))
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, recs := range allRecords {
		if len(recs) == 0 {
			continue
		}
		heap.Push(h, mergeHeapItem{entry: mergeEntry{rec: recs[0], rank: ranks[i]}, handleIx: i, recIx: 0})
	}

	var out []index.Entry
	var lastKey []byte
	haveLast := false

	for h.Len() > 0 {
		item := heap.Pop(h).(mergeHeapItem)

		isNewKey := !haveLast || compareBytes(item.entry.rec.Key, lastKey) != 0
		if isNewKey {
			if item.entry.rec.State != index.StateTombstone {
				out = append(out, index.Entry{
					Key:   item.entry.rec.Key,
					State: item.entry.rec.State,
					Value: item.entry.rec.Value,
				})
			}
			lastKey = item.entry.rec.Key
			haveLast = true
		}
		// Duplicates of the same key from older files are simply
		// skipped (the heap's rank ordering guarantees the first time
		// we see a key it's from the newest file holding it).

		recs := allRecords[item.handleIx]
		nextIx := item.recIx + 1
		if nextIx < len(recs) {
			heap.Push(h, mergeHeapItem{
				entry:    mergeEntry{rec: recs[nextIx], rank: ranks[item.handleIx]},
				handleIx: item.handleIx,
				recIx:    nextIx,
			})
		}
	}

	return out, nil
}
