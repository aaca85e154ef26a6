package idb_test

import (
	"testing"

	"github.com/hupe1980/idb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor(t *testing.T) {
	db := openWriter(t, t.TempDir())
	putAll(t, db, map[uint64]string{30: "c", 10: "a", 20: "b"})

	c, err := db.Cursor()
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	// Writes after creation do not change what the cursor visits.
	require.NoError(t, db.Put(40, []byte("d")))
	require.NoError(t, db.Out(20))

	var got []uint64
	for id, ok := c.Next(); ok; id, ok = c.Next() {
		got = append(got, id)
	}
	assert.Equal(t, []uint64{10, 20, 30}, got)

	_, ok := c.Next()
	assert.False(t, ok)

	c.Reset()
	id, ok := c.Next()
	assert.True(t, ok)
	assert.Equal(t, uint64(10), id)
}

func TestIter(t *testing.T) {
	dir := t.TempDir()
	db := openWriter(t, dir)

	assert.Equal(t, uint64(0), db.IterNext())
	assert.Equal(t, idb.ECodeInvalid, db.ECode())

	putAll(t, db, map[uint64]string{2: "two", 1: "one", 3: "three"})
	require.NoError(t, db.Close())
	require.NoError(t, db.Open(dir, idb.OReader))

	require.NoError(t, db.IterInit())
	var got []uint64
	for id := db.IterNext(); id != 0; id = db.IterNext() {
		text, ok, err := db.Get(id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, text)
		got = append(got, id)
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
	assert.Equal(t, idb.ECodeNoRec, db.ECode())
}

func TestCursor_NotOpen(t *testing.T) {
	db := idb.New()
	_, err := db.Cursor()
	assert.ErrorIs(t, err, idb.ErrNotOpen)
	assert.ErrorIs(t, db.IterInit(), idb.ErrNotOpen)
}
