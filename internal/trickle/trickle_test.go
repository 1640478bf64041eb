package trickle

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawstore/clawstore/internal/datafile"
	"github.com/clawstore/clawstore/internal/index"
)

func TestRunCycleFlushesDirtyEntriesAndClearsDirtyBit(t *testing.T) {
	dir := t.TempDir()
	idx := index.New(4)
	idx.Put("blocks", []byte("a"), []byte("1"), 1)
	idx.Put("blocks", []byte("b"), []byte("2"), 2)

	var nextID uint64
	var published []uint64
	var truncatedThrough uint64

	w := New(Config{
		DataDir:    dir,
		FileIDFunc: func(string) uint64 { nextID++; return nextID },
		Publish: func(table string, id uint64, footer *datafile.Footer) {
			published = append(published, id)
		},
		TruncateWAL:   func(lsn uint64) { truncatedThrough = lsn },
		CurrentMaxLSN: func() uint64 { return 2 },
	}, idx)

	require.NoError(t, w.RunCycle())

	assert.Equal(t, []uint64{1}, published)
	assert.Equal(t, uint64(2), truncatedThrough)

	entryA, _ := idx.Get("blocks", []byte("a"))
	assert.False(t, entryA.Dirty)

	path := datafile.Path(filepath.Join(dir, "data"), "blocks", 1)
	r, err := datafile.Open(path)
	require.NoError(t, err)
	scanned, err := r.Scan(nil, nil)
	require.NoError(t, err)
	require.Len(t, scanned, 2)
}

func TestRunCycleSkipsCleanTables(t *testing.T) {
	idx := index.New(4)
	var publishCount atomic.Int32

	w := New(Config{
		DataDir:       t.TempDir(),
		FileIDFunc:    func(string) uint64 { return 1 },
		Publish:       func(string, uint64, *datafile.Footer) { publishCount.Add(1) },
		CurrentMaxLSN: func() uint64 { return 0 },
	}, idx)

	require.NoError(t, w.RunCycle())
	assert.Equal(t, int32(0), publishCount.Load())
}

func TestStartStopRunsCyclesOnTicker(t *testing.T) {
	dir := t.TempDir()
	idx := index.New(4)
	idx.Put("blocks", []byte("a"), []byte("1"), 1)

	var published atomic.Int32
	w := New(Config{
		Interval:      10 * time.Millisecond,
		DataDir:       dir,
		FileIDFunc:    func(string) uint64 { return 1 },
		Publish:       func(string, uint64, *datafile.Footer) { published.Add(1) },
		CurrentMaxLSN: func() uint64 { return 1 },
	}, idx)

	w.Start()
	require.Eventually(t, func() bool { return published.Load() > 0 }, time.Second, 5*time.Millisecond)
	w.Stop()
}
