package clawstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionCommitAppliesAllOpsAtomically(t *testing.T) {
	engine := openTestEngine(t)

	tx := engine.BeginTransaction()
	require.NoError(t, tx.Put("accounts", []byte("a"), []byte("1")))
	require.NoError(t, tx.Put("accounts", []byte("b"), []byte("2")))
	require.NoError(t, tx.Delete("accounts", []byte("c")))
	require.NoError(t, tx.Commit())

	for _, key := range []string{"a", "b"} {
		_, found, err := engine.Get("accounts", []byte(key))
		require.NoError(t, err)
		assert.True(t, found, key)
	}
	_, found, err := engine.Get("accounts", []byte("c"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTransactionDoubleCommitFails(t *testing.T) {
	engine := openTestEngine(t)
	tx := engine.BeginTransaction()
	require.NoError(t, tx.Put("accounts", []byte("a"), []byte("1")))
	require.NoError(t, tx.Commit())

	err := tx.Commit()
	assert.Error(t, err)
}

func TestTransactionStageAfterCommitFails(t *testing.T) {
	engine := openTestEngine(t)
	tx := engine.BeginTransaction()
	require.NoError(t, tx.Commit())

	assert.Error(t, tx.Put("accounts", []byte("a"), []byte("1")))
	assert.Error(t, tx.Delete("accounts", []byte("a")))
}

func TestPutRejectsBadTableName(t *testing.T) {
	engine := openTestEngine(t)

	err := engine.Put("", []byte("a"), []byte("1"))
	require.Error(t, err)

	longName := ""
	for i := 0; i < 33; i++ {
		longName += "x"
	}
	err = engine.Put(longName, []byte("a"), []byte("1"))
	require.Error(t, err)

	err = engine.Put("tabl\xc3\xa9", []byte("a"), []byte("1"))
	require.Error(t, err)

	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("1")))
}

func TestEmptyTransactionCommitIsANoOp(t *testing.T) {
	engine := openTestEngine(t)
	tx := engine.BeginTransaction()
	assert.NoError(t, tx.Commit())
}

func TestTransactionWritesAreInvisibleUntilCommit(t *testing.T) {
	engine := openTestEngine(t)
	tx := engine.BeginTransaction()
	require.NoError(t, tx.Put("accounts", []byte("a"), []byte("1")))

	_, found, err := engine.Get("accounts", []byte("a"))
	require.NoError(t, err)
	assert.False(t, found, "staged write must not be visible before Commit")

	require.NoError(t, tx.Commit())
	_, found, err = engine.Get("accounts", []byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
}
