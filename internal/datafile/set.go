package datafile

import (
	"fmt"
	"sort"
	"sync"
)

// handle is one live data file tracked by a Set: its id, an open
// Reader, and a reference count. A file stays open until every
// in-flight lookup/cursor that acquired it has released it, even after
// it has been unlinked from the set — spec §5/§9's "removal from the
// set and unlink are separated so in-flight cursors never observe
// missing files".
type handle struct {
	id     uint64
	reader *Reader
	path   string
	refs   int
	// unlinked is set once the file has been removed from the live set
	// (superseded by compaction). The backing os file is only removed
	// from disk once refs drops to zero after that.
	unlinked bool
}

// Set is the engine's per-table live file-set: an ordered collection
// of immutable data files with ids assigned at publish time, newest
// id last. Lookups briefly take the set's lock, pick a consistent
// snapshot of handles, and bump refcounts for the duration of a lookup
// or cursor.
type Set struct {
	mu      sync.RWMutex
	byID    map[uint64]*handle
	order   []uint64 // ascending ids; order[len-1] is newest
	nextID  uint64
	unlinkFn func(path string) error
}

// NewSet creates an empty file set. unlinkFn is called to remove a
// superseded file from disk, letting callers (tests, the engine)
// observe or stub deletion; with a nil unlinkFn no file is removed.
func NewSet(startingID uint64, unlinkFn func(path string) error) *Set {
	return &Set{
		byID:     make(map[uint64]*handle),
		nextID:   startingID,
		unlinkFn: unlinkFn,
	}
}

// Register adds an already-open reader under an explicit id, used
// during recovery when existing files are discovered on disk rather
// than freshly written.
func (s *Set) Register(id uint64, path string, r *Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = &handle{id: id, reader: r, path: path}
	s.order = append(s.order, id)
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

// NextID allocates the next strictly increasing file id for this set
// (spec invariant 4).
func (s *Set) NextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

// Publish registers a newly-written, already-fsynced-and-renamed file
// under id, making it eligible for reads (spec §4.4 step 3).
func (s *Set) Publish(id uint64, path string, r *Reader) {
	s.Register(id, path, r)
}

// Snapshot returns every live (non-unlinked) reader for the table,
// newest-id-first, with refcounts bumped. Callers MUST call Release
// for each returned snapshotHandle once done.
func (s *Set) Snapshot() []SnapshotHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SnapshotHandle, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		h := s.byID[s.order[i]]
		if h == nil || h.unlinked {
			continue
		}
		h.refs++
		out = append(out, SnapshotHandle{set: s, id: h.id, Reader: h.reader})
	}
	return out
}

// SnapshotHandle is one refcounted handle into a Set, returned by
// Snapshot. Release must be called exactly once.
type SnapshotHandle struct {
	set *Set
	id  uint64
	*Reader
}

// Release drops this handle's reference. If the underlying file has
// been unlinked from the set and this was the last reference, the
// backing file is removed from disk now.
func (h SnapshotHandle) Release() {
	h.set.release(h.id)
}

func (s *Set) release(id uint64) {
	s.mu.Lock()
	h, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	h.refs--
	shouldUnlink := h.unlinked && h.refs <= 0
	if shouldUnlink {
		delete(s.byID, id)
		s.removeFromOrder(id)
	}
	s.mu.Unlock()

	if shouldUnlink && s.unlinkFn != nil {
		_ = s.unlinkFn(h.path)
	}
}

func (s *Set) removeFromOrder(id uint64) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Supersede atomically publishes a compaction's output file(s) and
// marks the input ids as unlinked (spec §4.7: "publish new, then
// unlink old"). Inputs with live references stay open until the last
// cursor releases them; the file is removed from disk at that point
// rather than immediately.
func (s *Set) Supersede(inputIDs []uint64, newID uint64, newPath string, newReader *Reader) {
	s.mu.Lock()
	s.byID[newID] = &handle{id: newID, reader: newReader, path: newPath}
	s.order = append(s.order, newID)
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	if newID >= s.nextID {
		s.nextID = newID + 1
	}

	var toUnlinkNow []*handle
	for _, id := range inputIDs {
		h, ok := s.byID[id]
		if !ok {
			continue
		}
		h.unlinked = true
		if h.refs <= 0 {
			delete(s.byID, id)
			s.removeFromOrder(id)
			toUnlinkNow = append(toUnlinkNow, h)
		}
	}
	s.mu.Unlock()

	if s.unlinkFn != nil {
		for _, h := range toUnlinkNow {
			_ = s.unlinkFn(h.path)
		}
	}
}

// IDs returns every live file id, ascending.
func (s *Set) IDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, len(s.order))
	for _, id := range s.order {
		if h := s.byID[id]; h != nil && !h.unlinked {
			out = append(out, id)
		}
	}
	return out
}

// Len reports the number of live files, used against
// compaction_file_count_threshold.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.order {
		if h := s.byID[id]; h != nil && !h.unlinked {
			n++
		}
	}
	return n
}

func (s *Set) String() string {
	return fmt.Sprintf("fileset(%d files)", s.Len())
}
