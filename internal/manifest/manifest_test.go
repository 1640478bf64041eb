package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishListUnlinkFile(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "MANIFEST"))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.PublishFile("blocks", FileSummary{ID: 1, RecordCount: 10, FirstKey: []byte("a"), LastKey: []byte("j")}))
	require.NoError(t, m.PublishFile("blocks", FileSummary{ID: 2, RecordCount: 5, FirstKey: []byte("k"), LastKey: []byte("p")}))

	files, err := m.ListFiles("blocks")
	require.NoError(t, err)
	require.Len(t, files, 2)

	require.NoError(t, m.UnlinkFile("blocks", 1))
	files, err = m.ListFiles("blocks")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, uint64(2), files[0].ID)
}

func TestTablesListsDistinctBuckets(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "MANIFEST"))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.PublishFile("blocks", FileSummary{ID: 1}))
	require.NoError(t, m.PublishFile("accounts", FileSummary{ID: 1}))

	tables, err := m.Tables()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"blocks", "accounts"}, tables)
}

func TestTruncationWatermarkPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Open(path)
	require.NoError(t, err)

	watermark, err := m.TruncationWatermark()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), watermark)

	require.NoError(t, m.SetTruncationWatermark(42))
	require.NoError(t, m.Close())

	m, err = Open(path)
	require.NoError(t, err)
	defer m.Close()

	watermark, err = m.TruncationWatermark()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), watermark)
}

func TestFileSummaryRoundTripPreservesKeys(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "MANIFEST"))
	require.NoError(t, err)
	defer m.Close()

	fs := FileSummary{ID: 7, RecordCount: 100, FirstKey: []byte("alpha"), LastKey: []byte("zeta"), Version: 2}
	require.NoError(t, m.PublishFile("blocks", fs))

	files, err := m.ListFiles("blocks")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, fs, files[0])
}
