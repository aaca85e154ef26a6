package invindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T, path string, leaves *LeafCache) *Index {
	t.Helper()
	ix, err := Open("token", path, Options{Leaves: leaves})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func ids(t *testing.T, ix *Index, unit string) []uint64 {
	t.Helper()
	bm, err := ix.Lookup(unit)
	require.NoError(t, err)
	return bm.ToArray()
}

func TestIndex_AddRemoveLookup(t *testing.T) {
	ix := openTestIndex(t, filepath.Join(t.TempDir(), "token.idx"), NewLeafCache(16))

	ix.Add("beta", 3)
	ix.Add("beta", 1)
	ix.Add("alpha", 2)
	assert.Equal(t, []uint64{1, 3}, ids(t, ix, "beta"))
	assert.Empty(t, ids(t, ix, "gamma"))

	// Cached leaves are invalidated by writes.
	ix.Remove("beta", 1)
	assert.Equal(t, []uint64{3}, ids(t, ix, "beta"))

	ix.Update(3, []string{"beta"}, []string{"gamma"})
	assert.Empty(t, ids(t, ix, "beta"))
	assert.Equal(t, []uint64{3}, ids(t, ix, "gamma"))

	n, err := ix.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n, "units with empty postings are dropped")
	assert.True(t, ix.Dirty())
}

func TestIndex_LookupIsCallerOwned(t *testing.T) {
	ix := openTestIndex(t, filepath.Join(t.TempDir(), "token.idx"), NewLeafCache(16))
	ix.Add("a", 1)

	bm, err := ix.Lookup("a")
	require.NoError(t, err)
	bm.Add(99)
	assert.Equal(t, []uint64{1}, ids(t, ix, "a"))
}

func TestIndex_CheckpointAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.idx")
	ix, err := Open("token", path, Options{Leaves: NewLeafCache(4)})
	require.NoError(t, err)

	for id := uint64(1); id <= 100; id++ {
		ix.Add("all", id)
		if id%2 == 0 {
			ix.Add("even", id)
		}
	}
	ix.Add("gone", 7)
	ix.Remove("gone", 7)
	require.NoError(t, ix.Checkpoint(context.Background(), 42))
	assert.False(t, ix.Dirty())
	assert.Equal(t, uint64(42), ix.LSN())

	// Delta on top of the snapshot.
	ix.Remove("all", 50)
	ix.Add("odd", 1)
	assert.Len(t, ids(t, ix, "all"), 99)
	require.NoError(t, ix.Close())

	ix2 := openTestIndex(t, path, nil)
	assert.Equal(t, uint64(42), ix2.LSN())
	assert.Len(t, ids(t, ix2, "all"), 100)
	assert.Len(t, ids(t, ix2, "even"), 50)
	assert.Empty(t, ids(t, ix2, "gone"))
	assert.Empty(t, ids(t, ix2, "odd"), "uncheckpointed changes are not persisted")

	units, err := ix2.Prefix("", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "even"}, units)
}

func TestIndex_ScanMergesSnapshotAndDelta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qgram.idx")
	ix := openTestIndex(t, path, NewLeafCache(8))

	for i, u := range []string{"ab", "ac", "b", "ba", "bd"} {
		ix.Add(u, uint64(i+1))
	}
	require.NoError(t, ix.Checkpoint(context.Background(), 1))

	ix.Add("aa", 9)
	ix.Add("bb", 9)
	ix.Remove("ac", 2)
	ix.Add("bd", 10)

	units, err := ix.Prefix("", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "ab", "b", "ba", "bb", "bd"}, units)

	units, err = ix.Prefix("b", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "ba", "bb", "bd"}, units)

	units, err = ix.Prefix("b", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "ba"}, units)

	units, err = ix.Prefix("c", 0)
	require.NoError(t, err)
	assert.Empty(t, units)

	bm, err := ix.LookupUnion([]string{"ab", "bd", "zz"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 5, 10}, bm.ToArray())
}

func TestIndex_Rebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.idx")
	ix := openTestIndex(t, path, NewLeafCache(8))
	ix.Add("stale", 1)
	require.NoError(t, ix.Checkpoint(context.Background(), 1))

	require.NoError(t, ix.Reset())
	assert.Empty(t, ids(t, ix, "stale"))

	units := map[string]*roaring64.Bitmap{
		"fresh": roaring64.BitmapOf(2, 3),
		"empty": roaring64.New(),
	}
	require.NoError(t, ix.Rebuild(context.Background(), 5, units))
	assert.Equal(t, uint64(5), ix.LSN())
	assert.Equal(t, []uint64{2, 3}, ids(t, ix, "fresh"))
	assert.Empty(t, ids(t, ix, "stale"))

	n, err := ix.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndex_CheckpointFailureKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.idx")
	ffs := fs.NewFaultyFS(nil)
	ix, err := Open("token", path, Options{FS: ffs})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	ix.Add("keep", 1)
	ffs.AddRule("token.idx", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	assert.ErrorIs(t, ix.Checkpoint(context.Background(), 1), fs.ErrInjected)
	assert.True(t, ix.Dirty())
	assert.Equal(t, []uint64{1}, ids(t, ix, "keep"))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestIndex_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.idx")
	ix := openTestIndex(t, path, nil)
	ix.Add("x", 1)
	require.NoError(t, ix.Checkpoint(context.Background(), 1))
	require.NoError(t, ix.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[headerSize+1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open("token", path, Options{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSnapshotWriter_Unsorted(t *testing.T) {
	sw, err := newSnapshotWriter(discard{}, 0)
	require.NoError(t, err)
	require.NoError(t, sw.add("b", roaring64.BitmapOf(1)))
	assert.ErrorIs(t, sw.add("a", roaring64.BitmapOf(1)), ErrUnsorted)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
