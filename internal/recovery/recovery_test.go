package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawstore/clawstore/internal/datafile"
	"github.com/clawstore/clawstore/internal/index"
	"github.com/clawstore/clawstore/internal/wal"
)

func TestRunReplaysWALIntoFreshIndex(t *testing.T) {
	dataDir := t.TempDir()
	walCfg := wal.DefaultConfig(filepath.Join(dataDir, "wal"))

	w, err := wal.NewWriter(walCfg)
	require.NoError(t, err)
	for i, rec := range []*wal.Record{
		{LSN: 1, Table: "blocks", Op: wal.OpPut, Key: []byte("a"), Value: []byte("1")},
		{LSN: 2, Table: "blocks", Op: wal.OpPut, Key: []byte("b"), Value: []byte("2")},
		{LSN: 3, Table: "blocks", Op: wal.OpDelete, Key: []byte("a")},
	} {
		ticket, err := w.Append(rec)
		require.NoErrorf(t, err, "append %d", i)
		require.NoError(t, w.WaitDurable(ticket))
	}
	require.NoError(t, w.Close())

	idx := index.New(4)
	result, err := Run(dataDir, walCfg, idx, os.Remove)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.MaxLSN)
	assert.Equal(t, 3, result.RecordsRead)

	entry, ok := idx.Get("blocks", []byte("a"))
	require.True(t, ok)
	assert.Equal(t, index.StateTombstone, entry.State)

	entry, ok = idx.Get("blocks", []byte("b"))
	require.True(t, ok)
	assert.Equal(t, "2", string(entry.Value))
}

func TestRunRegistersExistingDataFiles(t *testing.T) {
	dataDir := t.TempDir()
	walCfg := wal.DefaultConfig(filepath.Join(dataDir, "wal"))

	path := datafile.Path(filepath.Join(dataDir, "data"), "blocks", 1)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	_, err := datafile.Write(path, []index.Entry{{Key: []byte("a"), State: index.StatePresent, Value: []byte("1")}}, datafile.VersionUncompressed)
	require.NoError(t, err)

	idx := index.New(4)
	result, err := Run(dataDir, walCfg, idx, os.Remove)
	require.NoError(t, err)

	set, ok := result.FileSets["blocks"]
	require.True(t, ok)
	assert.Equal(t, []uint64{1}, set.IDs())
}

func TestRunFailsOnCorruptDataFile(t *testing.T) {
	dataDir := t.TempDir()
	walCfg := wal.DefaultConfig(filepath.Join(dataDir, "wal"))

	path := datafile.Path(filepath.Join(dataDir, "data"), "blocks", 1)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	_, err := datafile.Write(path, []index.Entry{{Key: []byte("a"), State: index.StatePresent, Value: []byte("1")}}, datafile.VersionUncompressed)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-5] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	idx := index.New(4)
	_, err = Run(dataDir, walCfg, idx, os.Remove)
	assert.Error(t, err)
}

func TestRunOnEmptyDirectoryIsANoOp(t *testing.T) {
	dataDir := t.TempDir()
	walCfg := wal.DefaultConfig(filepath.Join(dataDir, "wal"))

	idx := index.New(4)
	result, err := Run(dataDir, walCfg, idx, os.Remove)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.MaxLSN)
	assert.Empty(t, result.FileSets)
}
