package idb_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/idb"
	"github.com/hupe1980/idb/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	db := openWriter(t, src)

	putAll(t, db, map[uint64]string{1: "checkpointed text", 2: "second doc"})
	require.NoError(t, db.Close())
	require.NoError(t, db.Open(src, idb.OWriter))
	// Journaled but not yet checkpointed.
	require.NoError(t, db.Put(3, []byte("pending in the journal")))
	require.NoError(t, db.Out(2))

	store := blobstore.NewMemoryStore()
	require.NoError(t, db.Backup(ctx, store, "backups/one"))

	names, err := store.List(ctx, "backups/one")
	require.NoError(t, err)
	assert.Contains(t, names, "backups/one/META")
	assert.Contains(t, names, "backups/one/"+idb.JournalFile)

	dst := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, idb.Restore(ctx, store, "backups/one", dst))

	restored := idb.New()
	require.NoError(t, restored.Open(dst, idb.OReader))
	defer restored.Close()

	assert.Equal(t, uint64(2), restored.RNum())
	ids, err := restored.Search([]byte("journal"), idb.SToken)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, ids)
	_, ok, err := restored.Get(2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestore_Missing(t *testing.T) {
	err := idb.Restore(context.Background(), blobstore.NewMemoryStore(), "nothing", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, idb.ECodeNoFile, idb.CodeOf(err))
}

func TestBackup_NotOpen(t *testing.T) {
	db := idb.New()
	err := db.Backup(context.Background(), blobstore.NewMemoryStore(), "x")
	assert.ErrorIs(t, err, idb.ErrNotOpen)
}

func TestCopy(t *testing.T) {
	src := t.TempDir()
	db := openWriter(t, src)
	putAll(t, db, map[uint64]string{1: "copy me", 2: "and me"})

	assert.ErrorIs(t, db.Copy(src), idb.ErrInvalid)

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, db.Copy(dst))
	_, err := os.Stat(filepath.Join(dst, idb.JournalFile))
	require.NoError(t, err)

	cp := idb.New()
	require.NoError(t, cp.Open(dst, idb.OWriter))
	defer cp.Close()
	assert.Equal(t, uint64(2), cp.RNum())
	ids, err := cp.Search([]byte("me"), idb.SToken)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)
}
