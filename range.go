package clawstore

import (
	"container/heap"

	"github.com/clawstore/clawstore/internal/index"
)

// KV is one visible (key, value) pair yielded by Range, in ascending
// key order.
type KV struct {
	Key   []byte
	Value []byte
}

// rangeSource is one ordered input to the merge: either the index
// snapshot (rank = indexRank, always wins) or one data file's scan
// (rank = its file id, higher is newer). Spec §4.5: "merge the index
// snapshot with data-file cursors using a min-heap keyed by (key,
// descending file id / index-is-newest)".
type rangeSource struct {
	entries []index.Entry
	rank    int
}

type rangeHeapItem struct {
	srcIx int
	recIx int
}

type rangeHeap struct {
	sources []rangeSource
	items   []rangeHeapItem
}

func (h *rangeHeap) Len() int { return len(h.items) }
func (h *rangeHeap) Less(i, j int) bool {
	a := h.sources[h.items[i].srcIx].entries[h.items[i].recIx]
	b := h.sources[h.items[j].srcIx].entries[h.items[j].recIx]
	c := compareKeys(a.Key, b.Key)
	if c != 0 {
		return c < 0
	}
	return h.sources[h.items[i].srcIx].rank > h.sources[h.items[j].srcIx].rank
}
func (h *rangeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rangeHeap) Push(x any)    { h.items = append(h.items, x.(rangeHeapItem)) }
func (h *rangeHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

func compareKeys(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// mergeRange performs the k-way merge and returns every visible
// (non-tombstone) key in [lo, hi) in ascending order.
func mergeRange(sources []rangeSource) []KV {
	h := &rangeHeap{sources: sources}
	heap.Init(h)
	for i, src := range sources {
		if len(src.entries) > 0 {
			heap.Push(h, rangeHeapItem{srcIx: i, recIx: 0})
		}
	}

	var out []KV
	var lastKey []byte
	haveLast := false

	for h.Len() > 0 {
		it := heap.Pop(h).(rangeHeapItem)
		src := &h.sources[it.srcIx]
		entry := src.entries[it.recIx]

		if !haveLast || compareKeys(entry.Key, lastKey) != 0 {
			if entry.State != index.StateTombstone {
				out = append(out, KV{Key: entry.Key, Value: entry.Value})
			}
			lastKey = entry.Key
			haveLast = true
		}

		if it.recIx+1 < len(src.entries) {
			heap.Push(h, rangeHeapItem{srcIx: it.srcIx, recIx: it.recIx + 1})
		}
	}

	return out
}

// indexRank beats every data file's rank (a file id), so the index's
// view of a key always wins the merge regardless of how many files are
// open — mirrors the compactor's rank-by-recency rule but with the
// index treated as "newer than everything on disk", per spec
// invariant 1.
const indexRank = 1 << 62
