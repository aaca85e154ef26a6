package idb_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/idb"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecovery_Journal(t *testing.T) {
	dir := t.TempDir()
	db := idb.New()
	require.NoError(t, db.Open(dir, idb.OWriter|idb.OCreate))

	require.NoError(t, db.Put(1, []byte("checkpointed")))
	require.NoError(t, db.Close())

	require.NoError(t, db.Open(dir, idb.OWriter))
	require.NoError(t, db.Put(2, []byte("journaled only")))
	require.NoError(t, db.Put(1, []byte("overwritten")))
	require.NoError(t, db.Out(2))
	require.NoError(t, db.Put(3, []byte("survivor")))
	require.NoError(t, db.Sync())
	require.NoError(t, idb.Crash(db))

	require.NoError(t, db.Open(dir, idb.OReader))
	assert.Equal(t, uint64(2), db.RNum())
	text, ok, err := db.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "overwritten", string(text))
	_, ok, err = db.Get(2)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := db.Search([]byte("survivor"), idb.SToken)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, ids)
	ids, err = db.Search([]byte("checkpointed"), idb.SSubstr)
	require.NoError(t, err)
	assert.Empty(t, ids)

	st, err := db.Stat()
	require.NoError(t, err)
	assert.Equal(t, 4, st.Pending)
	assert.False(t, st.Inconsistent)
	require.NoError(t, db.Close())

	// A writer checkpoints the replayed records on close.
	require.NoError(t, db.Open(dir, idb.OWriter))
	require.NoError(t, db.Close())

	require.NoError(t, db.Open(dir, idb.OWriter))
	defer db.Close()
	st, err = db.Stat()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, uint64(2), st.Records)
}

func TestRecovery_TornTail(t *testing.T) {
	dir := t.TempDir()
	db := idb.New()
	require.NoError(t, db.Open(dir, idb.OWriter|idb.OCreate))
	require.NoError(t, db.Put(1, []byte("intact")))
	require.NoError(t, db.Put(2, []byte("also intact")))
	require.NoError(t, idb.Crash(db))

	f, err := os.OpenFile(filepath.Join(dir, idb.JournalFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x42, 0x00, 0x00, 0x10, 0xde, 0xad})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, db.Open(dir, idb.OWriter))
	defer db.Close()
	assert.Equal(t, uint64(2), db.RNum())

	// New writes land after the cut.
	require.NoError(t, db.Put(3, []byte("after the tear")))
	require.NoError(t, idb.Crash(db))
	require.NoError(t, db.Open(dir, idb.OWriter))
	assert.Equal(t, uint64(3), db.RNum())
}

func TestRecovery_InconsistentIndex(t *testing.T) {
	dir := t.TempDir()
	db := idb.New()
	require.NoError(t, db.Open(dir, idb.OWriter|idb.OCreate))
	require.NoError(t, db.Put(1, []byte("alpha beta")))
	require.NoError(t, db.Put(2, []byte("beta gamma")))
	require.NoError(t, db.Close())

	require.NoError(t, os.Remove(filepath.Join(dir, idb.QGramFile)))

	require.NoError(t, db.Open(dir, idb.OWriter))
	defer db.Close()

	st, err := db.Stat()
	require.NoError(t, err)
	assert.True(t, st.Inconsistent)

	// Searches are answered from the rebuilt in-memory index.
	ids, err := db.Search([]byte("eta"), idb.SSubstr)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	require.NoError(t, db.Optimize())
	st, err = db.Stat()
	require.NoError(t, err)
	assert.False(t, st.Inconsistent)
	assert.Equal(t, 0, st.Pending)

	_, err = os.Stat(filepath.Join(dir, idb.QGramFile))
	assert.NoError(t, err)

	ids, err = db.Search([]byte("gam"), idb.SSubstr)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids)
}

func TestRecovery_StaleIndexCheckpointedOnClose(t *testing.T) {
	dir := t.TempDir()
	db := idb.New()
	require.NoError(t, db.Open(dir, idb.OWriter|idb.OCreate))
	require.NoError(t, db.Put(1, []byte("first")))
	require.NoError(t, db.Close())

	stale, err := os.ReadFile(filepath.Join(dir, idb.TokenFile))
	require.NoError(t, err)

	require.NoError(t, db.Open(dir, idb.OWriter))
	require.NoError(t, db.Put(2, []byte("second")))
	require.NoError(t, db.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, idb.TokenFile), stale, 0o644))

	require.NoError(t, db.Open(dir, idb.OWriter))
	st, err := db.Stat()
	require.NoError(t, err)
	assert.True(t, st.Inconsistent)
	require.NoError(t, db.Close())

	require.NoError(t, db.Open(dir, idb.OReader))
	defer db.Close()
	st, err = db.Stat()
	require.NoError(t, err)
	assert.False(t, st.Inconsistent)
	ids, err := db.Search([]byte("second"), idb.SToken)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids)
}

func TestAutoCheckpoint(t *testing.T) {
	dir := t.TempDir()
	metrics := &idb.BasicMetricsCollector{}
	db := idb.New(idb.WithMetricsCollector(metrics))
	tuning := idb.DefaultTuning()
	tuning.FreeBlockPoolPower = 3
	require.NoError(t, db.Tune(tuning))
	require.NoError(t, db.Open(dir, idb.OWriter|idb.OCreate))
	defer db.Close()

	for i := uint64(1); i <= 7; i++ {
		require.NoError(t, db.Put(i, []byte("auto")))
	}
	st, err := db.Stat()
	require.NoError(t, err)
	assert.Equal(t, 7, st.Pending)
	assert.Equal(t, int64(0), metrics.GetStats().CheckpointCount)

	require.NoError(t, db.Put(8, []byte("auto")))
	st, err = db.Stat()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, int64(1), metrics.GetStats().CheckpointCount)
}

func TestWrite_SyncFailure(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	db := idb.New(idb.WithFileSystem(ffs))
	require.NoError(t, db.Open(dir, idb.OWriter|idb.OCreate))
	require.NoError(t, db.Put(1, []byte("before")))
	require.NoError(t, db.Close())

	ffs.AddRule(idb.JournalFile, fs.Fault{FailAfterBytes: 0})
	require.NoError(t, db.Open(dir, idb.OWriter|idb.OTSync))
	defer db.Close()

	err := db.Put(2, []byte("unsynced"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, idb.ECodeSync, db.ECode())
	assert.Equal(t, idb.ECodeSync, idb.CodeOf(err))
}
