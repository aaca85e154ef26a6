package docstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/idb/internal/codec"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/hupe1980/idb/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string, opts Options) *Store {
	t.Helper()
	s, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(t *testing.T, s *Store, id uint64) (string, bool) {
	t.Helper()
	text, ok, err := s.Get(id)
	require.NoError(t, err)
	return string(text), ok
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "docs.snap"), Options{})

	s.Put(2, []byte("two"))
	s.Put(1, []byte("one"))
	s.Put(3, nil)
	assert.Equal(t, uint64(3), s.Len())

	text, ok := get(t, s, 2)
	assert.True(t, ok)
	assert.Equal(t, "two", text)

	text, ok = get(t, s, 3)
	assert.True(t, ok, "empty text is a stored document")
	assert.Empty(t, text)

	s.Put(2, []byte("TWO"))
	text, _ = get(t, s, 2)
	assert.Equal(t, "TWO", text)
	assert.Equal(t, uint64(3), s.Len())

	require.NoError(t, s.Delete(2))
	_, ok = get(t, s, 2)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Delete(2), ErrNotFound)
	assert.Equal(t, uint64(2), s.Len())
	assert.Equal(t, []uint64{1, 3}, s.IDs())
}

func TestStore_PutCopiesInput(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "docs.snap"), Options{})
	buf := []byte("abc")
	s.Put(1, buf)
	buf[0] = 'x'
	text, _ := get(t, s, 1)
	assert.Equal(t, "abc", text)

	out, _, err := s.Get(1)
	require.NoError(t, err)
	out[0] = 'y'
	text, _ = get(t, s, 1)
	assert.Equal(t, "abc", text)
}

func TestStore_CheckpointRoundTrip(t *testing.T) {
	for _, c := range []codec.Compression{codec.None, codec.Deflate, codec.Zstd, codec.LZ4} {
		for _, large := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/large=%t", c, large), func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "docs.snap")
				opts := Options{Compression: c, Large: large, AlignPower: 4}
				s, err := Open(path, opts)
				require.NoError(t, err)

				long := bytes.Repeat([]byte("compressible text "), 50)
				for id := uint64(1); id <= 50; id++ {
					s.Put(id, append([]byte(fmt.Sprintf("doc %d ", id)), long...))
				}
				require.NoError(t, s.Checkpoint(context.Background(), 7))
				assert.False(t, s.Dirty())

				// Mix delta with snapshot.
				require.NoError(t, s.Delete(10))
				s.Put(20, []byte("replaced"))
				s.Put(100, []byte("new"))
				require.NoError(t, s.Checkpoint(context.Background(), 8))
				require.NoError(t, s.Close())

				s2 := openStore(t, path, opts)
				assert.Equal(t, uint64(8), s2.LSN())
				assert.Equal(t, uint64(50), s2.Len())
				_, ok := get(t, s2, 10)
				assert.False(t, ok)
				text, _ := get(t, s2, 20)
				assert.Equal(t, "replaced", text)
				text, _ = get(t, s2, 100)
				assert.Equal(t, "new", text)
				text, _ = get(t, s2, 1)
				assert.Equal(t, "doc 1 "+string(long), text)
			})
		}
	}
}

func TestStore_Alignment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.snap")
	s := openStore(t, path, Options{AlignPower: 8})
	s.Put(1, []byte("a"))
	s.Put(2, []byte("b"))
	require.NoError(t, s.Checkpoint(context.Background(), 1))

	for i := 0; i < s.snap.count; i++ {
		e := s.snap.table[i*s.snap.entrySize:]
		off := uint64(e[8]) | uint64(e[9])<<8 | uint64(e[10])<<16 | uint64(e[11])<<24
		assert.Zero(t, off%256)
	}
}

func TestStore_FormatMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.snap")
	s, err := Open(path, Options{Compression: codec.Zstd})
	require.NoError(t, err)
	s.Put(1, []byte("x"))
	require.NoError(t, s.Checkpoint(context.Background(), 1))
	require.NoError(t, s.Close())

	_, err = Open(path, Options{Compression: codec.LZ4})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestStore_ScanOrder(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "docs.snap"), Options{})
	for _, id := range []uint64{5, 1, 9} {
		s.Put(id, []byte(fmt.Sprint(id)))
	}
	require.NoError(t, s.Checkpoint(context.Background(), 1))
	s.Put(3, []byte("3"))
	s.Put(9, []byte("nine"))
	require.NoError(t, s.Delete(5))

	var seen []string
	require.NoError(t, s.Scan(func(id uint64, text []byte) bool {
		seen = append(seen, fmt.Sprintf("%d=%s", id, text))
		return true
	}))
	assert.Equal(t, []string{"1=1", "3=3", "9=nine"}, seen)

	var first []uint64
	require.NoError(t, s.Scan(func(id uint64, _ []byte) bool {
		first = append(first, id)
		return false
	}))
	assert.Equal(t, []uint64{1}, first)
}

func TestStore_RecordCache(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	records := NewRecordCache(1<<20, rc)
	s := openStore(t, filepath.Join(t.TempDir(), "docs.snap"), Options{Records: records})
	s.Put(1, []byte("cached"))
	require.NoError(t, s.Checkpoint(context.Background(), 1))

	text, _ := get(t, s, 1)
	assert.Equal(t, "cached", text)
	assert.Equal(t, 1, records.Len())
	assert.Equal(t, int64(6), rc.MemoryUsage())

	s.Put(1, []byte("changed"))
	assert.Zero(t, records.Len())
	text, _ = get(t, s, 1)
	assert.Equal(t, "changed", text)
}

func TestStore_Reset(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "docs.snap"), Options{})
	s.Put(1, []byte("x"))
	require.NoError(t, s.Checkpoint(context.Background(), 1))
	s.Put(2, []byte("y"))
	require.NoError(t, s.Reset())
	assert.Zero(t, s.Len())
	assert.Empty(t, s.IDs())
	_, ok := get(t, s, 1)
	assert.False(t, ok)
}

func TestStore_CheckpointFailureKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.snap")
	ffs := fs.NewFaultyFS(nil)
	s := openStore(t, path, Options{FS: ffs})
	s.Put(1, []byte("pending"))

	ffs.AddRule("docs.snap", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	assert.ErrorIs(t, s.Checkpoint(context.Background(), 1), fs.ErrInjected)
	assert.True(t, s.Dirty())
	text, ok := get(t, s, 1)
	assert.True(t, ok)
	assert.Equal(t, "pending", text)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.snap")
	require.NoError(t, os.WriteFile(path, []byte("garbage that is long enough to look like a header....."), 0o644))
	_, err := Open(path, Options{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSnapshotWriter_SmallLimit(t *testing.T) {
	sw, err := newSnapshotWriter(nopWriter{}, 0, codec.None, 4, false, 0)
	require.NoError(t, err)
	sw.off = maxSmallSize
	assert.ErrorIs(t, sw.add(1, []byte("x")), ErrTooLarge)

	sw, err = newSnapshotWriter(nopWriter{}, 0, codec.None, 4, true, 0)
	require.NoError(t, err)
	sw.off = maxSmallSize
	assert.NoError(t, sw.add(1, []byte("x")))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
