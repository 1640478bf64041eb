package clawstore

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawstore/clawstore/internal/clawerrors"
)

// corruptFile flips a byte inside a data file's first block, leaving
// the footer (and so Open's footer-CRC check) untouched — only a
// subsequent Scan over the block data will notice.
func corruptFile(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func testConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.TrickleIntervalMS = 24 * 60 * 60 * 1000 // effectively disable the ticker; tests call FlushNow
	return cfg
}

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	engine, err := Open(dir, testConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestPutGetDelete(t *testing.T) {
	engine := openTestEngine(t)

	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("1")))
	value, found, err := engine.Get("accounts", []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", string(value))

	require.NoError(t, engine.Delete("accounts", []byte("a")))
	_, found, err = engine.Get("accounts", []byte("a"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetOnMissingKeyReturnsNotFound(t *testing.T) {
	engine := openTestEngine(t)
	_, found, err := engine.Get("accounts", []byte("nope"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteNeverWrittenKeyStillTombstones(t *testing.T) {
	engine := openTestEngine(t)
	require.NoError(t, engine.Delete("accounts", []byte("ghost")))
	_, found, err := engine.Get("accounts", []byte("ghost"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	engine := openTestEngine(t)
	err := engine.Put("accounts", nil, []byte("v"))
	require.Error(t, err)
	var invalidArg *clawerrors.InvalidArgumentError
	assert.ErrorAs(t, err, &invalidArg)
}

func TestPutRejectsOversizeKeyAndValue(t *testing.T) {
	engine := openTestEngine(t)
	engine.cfg.MaxKeyBytes = 4
	engine.cfg.MaxValueBytes = 4

	err := engine.Put("accounts", []byte("toolongkey"), []byte("ok"))
	assert.Error(t, err)

	err = engine.Put("accounts", []byte("ok"), []byte("toolongvalue"))
	assert.Error(t, err)
}

func TestGetSurvivesTrickleFlush(t *testing.T) {
	engine := openTestEngine(t)
	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("1")))
	require.NoError(t, engine.FlushNow())

	value, found, err := engine.Get("accounts", []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", string(value))
}

func TestNewerIndexWriteWinsOverFlushedFile(t *testing.T) {
	engine := openTestEngine(t)
	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("old")))
	require.NoError(t, engine.FlushNow())
	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("new")))

	value, found, err := engine.Get("accounts", []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", string(value))
}

func TestDeleteAfterFlushHidesOlderFileValue(t *testing.T) {
	engine := openTestEngine(t)
	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("1")))
	require.NoError(t, engine.FlushNow())
	require.NoError(t, engine.Delete("accounts", []byte("a")))

	_, found, err := engine.Get("accounts", []byte("a"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCompactAllReducesFileCountAcrossMultipleFlushes(t *testing.T) {
	engine := openTestEngine(t)
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, engine.Put("accounts", []byte(key), []byte("v")))
		require.NoError(t, engine.FlushNow())
	}

	stats, err := engine.TableStats("accounts")
	require.NoError(t, err)
	require.Greater(t, len(stats), 1)

	require.NoError(t, engine.CompactAll())

	stats, err = engine.TableStats("accounts")
	require.NoError(t, err)
	assert.Len(t, stats, 1)

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		_, found, err := engine.Get("accounts", []byte(key))
		require.NoError(t, err)
		assert.True(t, found, key)
	}
}

func TestVerifyTableDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	engine, err := Open(dir, testConfig(dir))
	require.NoError(t, err)
	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("1")))
	require.NoError(t, engine.FlushNow())
	require.NoError(t, engine.Close())

	stats, err := func() ([]FileStat, error) {
		e2, err := Open(dir, testConfig(dir))
		require.NoError(t, err)
		defer e2.Close()
		return e2.TableStats("accounts")
	}()
	require.NoError(t, err)
	require.Len(t, stats, 1)

	corruptFile(t, stats[0].Path)

	engine2, err := Open(dir, testConfig(dir))
	require.NoError(t, err)
	defer engine2.Close()

	err = engine2.VerifyTable("accounts")
	assert.Error(t, err)

	_, _, err = engine2.Get("accounts", []byte("a"))
	var tableCorrupted *clawerrors.TableCorruptedError
	assert.ErrorAs(t, err, &tableCorrupted)
}

func TestCrashRecoveryReplaysCommittedWritesWithoutClose(t *testing.T) {
	dir := t.TempDir()
	engine, err := Open(dir, testConfig(dir))
	require.NoError(t, err)
	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("1")))
	require.NoError(t, engine.Put("accounts", []byte("b"), []byte("2")))
	require.NoError(t, engine.Delete("accounts", []byte("a")))
	// Deliberately no Close: every committed write is already durable.
	// Only the directory lock is dropped, as a crashed process's would be.
	require.NoError(t, engine.lock.release())

	engine2, err := Open(dir, testConfig(dir))
	require.NoError(t, err)
	defer engine2.Close()

	_, found, err := engine2.Get("accounts", []byte("a"))
	require.NoError(t, err)
	assert.False(t, found)

	value, found, err := engine2.Get("accounts", []byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", string(value))
}

// TestCrashRecoveryReplayProducesExactExpectedState is the property
// test from spec.md's crash-recovery prefix property: replaying the
// WAL after an unclean shutdown must reconstruct exactly the state the
// committed writes implied, key for key, not merely "close enough".
// cmp.Diff is used instead of a field-by-field assert so any stray key
// or wrong value shows up as a single readable diff.
func TestCrashRecoveryReplayProducesExactExpectedState(t *testing.T) {
	dir := t.TempDir()
	engine, err := Open(dir, testConfig(dir))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%02d", i)
		require.NoError(t, engine.Put("accounts", []byte(key), []byte(key)))
	}
	require.NoError(t, engine.Delete("accounts", []byte("k03")))
	require.NoError(t, engine.Put("accounts", []byte("k05"), []byte("updated")))
	// Deliberately no Close; only the directory lock is dropped.
	require.NoError(t, engine.lock.release())

	want := map[string]string{}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%02d", i)
		want[key] = key
	}
	delete(want, "k03")
	want["k05"] = "updated"

	engine2, err := Open(dir, testConfig(dir))
	require.NoError(t, err)
	defer engine2.Close()

	got := map[string]string{}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%02d", i)
		value, found, err := engine2.Get("accounts", []byte(key))
		require.NoError(t, err)
		if found {
			got[key] = string(value)
		}
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recovered state mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentPutsAreAllDurableAndVisible(t *testing.T) {
	engine := openTestEngine(t)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%03d", i)
			assert.NoError(t, engine.Put("accounts", []byte(key), []byte("v")))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%03d", i)
		_, found, err := engine.Get("accounts", []byte(key))
		require.NoError(t, err)
		assert.True(t, found, key)
	}
}

func TestInstanceIDIsStableAndUnique(t *testing.T) {
	e1 := openTestEngine(t)
	e2 := openTestEngine(t)
	assert.NotEmpty(t, e1.InstanceID())
	assert.NotEqual(t, e1.InstanceID(), e2.InstanceID())
}

func TestTablesReflectsBothIndexAndFlushedFiles(t *testing.T) {
	engine := openTestEngine(t)
	require.NoError(t, engine.Put("accounts", []byte("a"), []byte("1")))
	require.NoError(t, engine.FlushNow())
	require.NoError(t, engine.Put("blocks", []byte("b"), []byte("2")))

	assert.Equal(t, []string{"accounts", "blocks"}, engine.Tables())
}
