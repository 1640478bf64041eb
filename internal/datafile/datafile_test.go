package datafile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawstore/clawstore/internal/index"
)

func entries(kv ...string) []index.Entry {
	out := make([]index.Entry, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		out = append(out, index.Entry{Key: []byte(kv[i]), State: index.StatePresent, Value: []byte(kv[i+1])})
	}
	return out
}

func TestWriteOpenGetScanRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000001.sst")

	src := entries("a", "1", "b", "2", "c", "3")
	footer, err := Write(path, src, VersionUncompressed)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), footer.RecordCount)
	assert.Equal(t, "a", string(footer.FirstKey))
	assert.Equal(t, "c", string(footer.LastKey))

	r, err := Open(path)
	require.NoError(t, err)

	rec, ok, err := r.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(rec.Value))

	_, ok, err = r.Get([]byte("z"))
	require.NoError(t, err)
	assert.False(t, ok)

	scanned, err := r.Scan(nil, nil)
	require.NoError(t, err)
	require.Len(t, scanned, 3)
	assert.Equal(t, "a", string(scanned[0].Key))
	assert.Equal(t, "c", string(scanned[2].Key))

	bounded, err := r.Scan([]byte("b"), []byte("c"))
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.Equal(t, "b", string(bounded[0].Key))
}

func TestWriteManyBlocksSpansMultipleBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000001.sst")

	var src []index.Entry
	bigValue := make([]byte, 512)
	for i := 0; i < 50; i++ {
		src = append(src, index.Entry{Key: []byte{byte(i)}, State: index.StatePresent, Value: bigValue})
	}

	footer, err := Write(path, src, VersionUncompressed)
	require.NoError(t, err)
	assert.Greater(t, len(footer.BlockIndex), 1)

	r, err := Open(path)
	require.NoError(t, err)
	scanned, err := r.Scan(nil, nil)
	require.NoError(t, err)
	assert.Len(t, scanned, 50)
}

func TestTombstoneRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000001.sst")

	src := []index.Entry{
		{Key: []byte("a"), State: index.StatePresent, Value: []byte("1")},
		{Key: []byte("b"), State: index.StateTombstone},
	}
	_, err := Write(path, src, VersionUncompressed)
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	rec, ok, err := r.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, index.StateTombstone, rec.State)
	assert.Empty(t, rec.Value)
}

func TestCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000001.sst")

	src := entries("a", "1", "b", "2")
	_, err := Write(path, src, VersionZstd)
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	rec, ok, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(rec.Value))
}

func TestOpenRejectsCorruptFooter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000001.sst")

	_, err := Write(path, entries("a", "1"), VersionUncompressed)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-5] ^= 0xff // flip a byte inside the footer length/crc tail
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	assert.Error(t, err)
}

func TestSetSnapshotAndSupersede(t *testing.T) {
	dir := t.TempDir()
	var unlinked []string
	set := NewSet(1, func(path string) error {
		unlinked = append(unlinked, path)
		return nil
	})

	path1 := filepath.Join(dir, "00000001.sst")
	_, err := Write(path1, entries("a", "1"), VersionUncompressed)
	require.NoError(t, err)
	r1, err := Open(path1)
	require.NoError(t, err)
	set.Publish(1, path1, r1)

	handles := set.Snapshot()
	require.Len(t, handles, 1)

	path2 := filepath.Join(dir, "00000002.sst")
	_, err = Write(path2, entries("a", "2"), VersionUncompressed)
	require.NoError(t, err)
	r2, err := Open(path2)
	require.NoError(t, err)

	set.Supersede([]uint64{1}, 2, path2, r2)
	assert.Equal(t, []uint64{2}, set.IDs())
	assert.Empty(t, unlinked, "file 1 still has an outstanding snapshot reference")

	for _, h := range handles {
		h.Release()
	}
	assert.Equal(t, []string{path1}, unlinked)
}
