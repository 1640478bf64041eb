package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	idx := New(4)
	idx.Put("blocks", []byte("a"), []byte("value-a"), 1)

	entry, ok := idx.Get("blocks", []byte("a"))
	require.True(t, ok)
	assert.Equal(t, StatePresent, entry.State)
	assert.Equal(t, "value-a", string(entry.Value))
	assert.Equal(t, uint64(1), entry.LSN)
	assert.True(t, entry.Dirty)
}

func TestDeleteCreatesTombstoneForUnknownKey(t *testing.T) {
	idx := New(4)
	idx.Delete("blocks", []byte("never-written"), 5)

	entry, ok := idx.Get("blocks", []byte("never-written"))
	require.True(t, ok)
	assert.Equal(t, StateTombstone, entry.State)
	assert.Equal(t, uint64(5), entry.LSN)
}

func TestGetMissReturnsFalse(t *testing.T) {
	idx := New(4)
	_, ok := idx.Get("blocks", []byte("absent"))
	assert.False(t, ok)
}

func TestNewerWriteWins(t *testing.T) {
	idx := New(4)
	idx.Put("blocks", []byte("a"), []byte("v1"), 1)
	idx.Put("blocks", []byte("a"), []byte("v2"), 2)

	entry, ok := idx.Get("blocks", []byte("a"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(entry.Value))
	assert.Equal(t, uint64(2), entry.LSN)
}

func TestOutOfOrderLowerLSNWriteIsDropped(t *testing.T) {
	idx := New(4)
	idx.Put("blocks", []byte("a"), []byte("v2"), 2)
	idx.Put("blocks", []byte("a"), []byte("v1"), 1)

	entry, ok := idx.Get("blocks", []byte("a"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(entry.Value))
	assert.Equal(t, uint64(2), entry.LSN)

	idx.Delete("blocks", []byte("a"), 1)
	entry, ok = idx.Get("blocks", []byte("a"))
	require.True(t, ok)
	assert.Equal(t, StatePresent, entry.State)
	assert.Equal(t, uint64(2), entry.LSN)
}

func TestRangeOrdersAcrossShardsAndFiltersOtherTables(t *testing.T) {
	idx := New(4)
	idx.Put("blocks", []byte("c"), []byte("3"), 1)
	idx.Put("blocks", []byte("a"), []byte("1"), 2)
	idx.Put("blocks", []byte("b"), []byte("2"), 3)
	idx.Put("other", []byte("a"), []byte("x"), 4)

	entries := idx.Range("blocks", nil, nil)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{
		string(entries[0].Key), string(entries[1].Key), string(entries[2].Key),
	})
}

func TestRangeRespectsBounds(t *testing.T) {
	idx := New(4)
	for _, k := range []string{"a", "b", "c", "d"} {
		idx.Put("blocks", []byte(k), []byte(k), 1)
	}

	entries := idx.Range("blocks", []byte("b"), []byte("d"))
	require.Len(t, entries, 2)
	assert.Equal(t, "b", string(entries[0].Key))
	assert.Equal(t, "c", string(entries[1].Key))
}

func TestDirtySnapshotHonorsMaxLSNAndDirtyBit(t *testing.T) {
	idx := New(4)
	idx.Put("blocks", []byte("a"), []byte("v1"), 1)
	idx.Put("blocks", []byte("b"), []byte("v2"), 5)
	idx.Put("blocks", []byte("c"), []byte("v3"), 2)
	require.True(t, idx.ClearDirtyIfUnchanged("blocks", []byte("c"), 2))

	snap := idx.DirtySnapshot("blocks", 3)
	require.Len(t, snap, 1)
	assert.Equal(t, "a", string(snap[0].Key))
}

func TestClearDirtyIfUnchanged(t *testing.T) {
	idx := New(4)
	idx.Put("blocks", []byte("a"), []byte("v1"), 1)

	assert.True(t, idx.ClearDirtyIfUnchanged("blocks", []byte("a"), 1))
	entry, _ := idx.Get("blocks", []byte("a"))
	assert.False(t, entry.Dirty)
}

func TestClearDirtyIfUnchangedFailsOnNewerWrite(t *testing.T) {
	idx := New(4)
	idx.Put("blocks", []byte("a"), []byte("v1"), 1)
	idx.Put("blocks", []byte("a"), []byte("v2"), 2)

	assert.False(t, idx.ClearDirtyIfUnchanged("blocks", []byte("a"), 1))
	entry, _ := idx.Get("blocks", []byte("a"))
	assert.True(t, entry.Dirty)
}

func TestTablesSortedAndDeduped(t *testing.T) {
	idx := New(4)
	idx.Put("zeta", []byte("a"), []byte("1"), 1)
	idx.Put("alpha", []byte("a"), []byte("1"), 1)
	idx.Put("zeta", []byte("b"), []byte("1"), 2)

	assert.Equal(t, []string{"alpha", "zeta"}, idx.Tables())
}
