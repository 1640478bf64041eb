// Package index implements the in-memory mapping from (table, key) to
// a value-or-tombstone plus a dirty bit (spec §4.3). It is pure
// memory: never the durable source of truth, only the RAM-speed read
// path and write buffer between WAL commits and data-file flushes.
package index

import (
	"sort"
	"sync"

	"github.com/zeebo/xxh3"
)

// State is the logical state of an index entry.
type State uint8

const (
	StatePresent State = iota
	StateTombstone
)

// Entry is a snapshot of one key's state in the index.
type Entry struct {
	Table string
	Key   []byte
	State State
	Value []byte
	LSN   uint64
	Dirty bool
}

type record struct {
	state State
	value []byte
	lsn   uint64
	dirty bool
}

const defaultShardCount = 64

type shard struct {
	mu sync.RWMutex
	m  map[string]*record
}

// Index is a sharded concurrent map keyed by hash of (table, key), per
// spec §9's explicit design note. Many readers proceed in parallel
// with a single writer; writers only serialize within the shard their
// key hashes to.
type Index struct {
	shards []*shard

	tablesMu sync.RWMutex
	tables   map[string]struct{}
}

// New creates an index with the given shard count (rounded up to a
// power of two is not required; modulo is used for simplicity over
// the spec's "small tables, one shard suffices" guidance).
func New(shardCount int) *Index {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	idx := &Index{
		shards: make([]*shard, shardCount),
		tables: make(map[string]struct{}),
	}
	for i := range idx.shards {
		idx.shards[i] = &shard{m: make(map[string]*record)}
	}
	return idx
}

func compositeKey(table string, key []byte) []byte {
	buf := make([]byte, 0, 1+len(table)+len(key))
	buf = append(buf, byte(len(table)))
	buf = append(buf, table...)
	buf = append(buf, key...)
	return buf
}

func (idx *Index) shardFor(table string, key []byte) *shard {
	h := xxh3.Hash(compositeKey(table, key))
	return idx.shards[h%uint64(len(idx.shards))]
}

func (idx *Index) registerTable(table string) {
	idx.tablesMu.RLock()
	_, ok := idx.tables[table]
	idx.tablesMu.RUnlock()
	if ok {
		return
	}
	idx.tablesMu.Lock()
	idx.tables[table] = struct{}{}
	idx.tablesMu.Unlock()
}

// Tables returns every table that has been written to, created
// implicitly on first write per spec §3.
func (idx *Index) Tables() []string {
	idx.tablesMu.RLock()
	defer idx.tablesMu.RUnlock()
	out := make([]string, 0, len(idx.tables))
	for t := range idx.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Put installs a Present value for (table, key) with the given LSN and
// marks the entry dirty. A write whose lsn is at or behind the
// resident entry's lsn is dropped: the index's authoritative value is
// always the one with the highest LSN (invariant 1), and concurrent
// commits can reach Put/Delete out of LSN order once they're applied
// outside the commit-serializing lock.
func (idx *Index) Put(table string, key, value []byte, lsn uint64) {
	idx.registerTable(table)
	sh := idx.shardFor(table, key)
	ck := string(compositeKey(table, key))
	sh.mu.Lock()
	if existing, ok := sh.m[ck]; ok && existing.lsn >= lsn {
		sh.mu.Unlock()
		return
	}
	sh.m[ck] = &record{
		state: StatePresent,
		value: append([]byte(nil), value...),
		lsn:   lsn,
		dirty: true,
	}
	sh.mu.Unlock()
}

// Delete installs a Tombstone for (table, key) with the given LSN and
// marks the entry dirty. Deleting a never-written key still creates a
// durable tombstone entry (spec §8 boundary behavior). Subject to the
// same LSN-ordering guard as Put.
func (idx *Index) Delete(table string, key []byte, lsn uint64) {
	idx.registerTable(table)
	sh := idx.shardFor(table, key)
	ck := string(compositeKey(table, key))
	sh.mu.Lock()
	if existing, ok := sh.m[ck]; ok && existing.lsn >= lsn {
		sh.mu.Unlock()
		return
	}
	sh.m[ck] = &record{
		state: StateTombstone,
		lsn:   lsn,
		dirty: true,
	}
	sh.mu.Unlock()
}

// Get returns the current index entry for (table, key), if any. The
// index always wins over data files per spec invariant 1 — callers
// only fall through to data files on a miss here.
func (idx *Index) Get(table string, key []byte) (Entry, bool) {
	sh := idx.shardFor(table, key)
	sh.mu.RLock()
	rec, ok := sh.m[string(compositeKey(table, key))]
	var e Entry
	if ok {
		e = Entry{
			Table: table,
			Key:   append([]byte(nil), key...),
			State: rec.state,
			Value: append([]byte(nil), rec.value...),
			LSN:   rec.lsn,
			Dirty: rec.dirty,
		}
	}
	sh.mu.RUnlock()
	return e, ok
}

// Range returns a sorted snapshot of every entry for table with key in
// [lo, hi). A nil lo/hi means unbounded on that side. Tombstones are
// included — callers (the engine's cursor merge) decide visibility.
func (idx *Index) Range(table string, lo, hi []byte) []Entry {
	var out []Entry
	for _, sh := range idx.shards {
		sh.mu.RLock()
		for ck, rec := range sh.m {
			t, key := splitCompositeKey(ck)
			if t != table {
				continue
			}
			if lo != nil && less(key, lo) {
				continue
			}
			if hi != nil && !less(key, hi) {
				continue
			}
			out = append(out, Entry{
				Table: table,
				Key:   append([]byte(nil), key...),
				State: rec.state,
				Value: append([]byte(nil), rec.value...),
				LSN:   rec.lsn,
				Dirty: rec.dirty,
			})
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Key, out[j].Key) })
	return out
}

// DirtySnapshot returns every dirty entry for table whose LSN is at
// most maxLSN, sorted by key — the trickle's per-cycle input (spec
// §4.6 step 2).
func (idx *Index) DirtySnapshot(table string, maxLSN uint64) []Entry {
	var out []Entry
	for _, sh := range idx.shards {
		sh.mu.RLock()
		for ck, rec := range sh.m {
			t, key := splitCompositeKey(ck)
			if t != table || !rec.dirty || rec.lsn > maxLSN {
				continue
			}
			out = append(out, Entry{
				Table: table,
				Key:   append([]byte(nil), key...),
				State: rec.state,
				Value: append([]byte(nil), rec.value...),
				LSN:   rec.lsn,
				Dirty: true,
			})
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Key, out[j].Key) })
	return out
}

// ClearDirtyIfUnchanged clears the dirty bit for (table, key) only if
// its LSN has not advanced past snapshotLSN since the trickle captured
// it — spec §4.6 step 5's per-key snapshot isolation. Returns true if
// the bit was cleared.
func (idx *Index) ClearDirtyIfUnchanged(table string, key []byte, snapshotLSN uint64) bool {
	sh := idx.shardFor(table, key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.m[string(compositeKey(table, key))]
	if !ok || rec.lsn > snapshotLSN {
		return false
	}
	rec.dirty = false
	return true
}

func splitCompositeKey(ck string) (table string, key []byte) {
	n := int(ck[0])
	table = ck[1 : 1+n]
	key = []byte(ck[1+n:])
	return table, key
}

func less(a, b []byte) bool {
	return string(a) < string(b)
}
