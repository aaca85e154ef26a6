package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	assert.NoError(t, f.Close())

	entries, err := lfs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	newPath := filepath.Join(dir, "renamed.txt")
	assert.NoError(t, lfs.Rename(fpath, newPath))

	assert.NoError(t, lfs.Truncate(newPath, 3))
	info, err = lfs.Stat(newPath)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())

	assert.NoError(t, lfs.Remove(newPath))
	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	err := WriteAtomic(nil, path, func(w io.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	})
	require.NoError(t, err)

	data, err := ReadFile(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	boom := errors.New("boom")
	err = WriteAtomic(nil, path, func(w io.Writer) error {
		_, _ = w.Write([]byte("second"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	data, err = ReadFile(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data), "failed write must keep the old content")

	ok, err := Exists(nil, path+TempSuffix)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteAtomic_SyncFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	ffs := NewFaultyFS(nil)
	ffs.AddRule("data", Fault{FailAfterBytes: -1, FailOnSync: true})

	err := WriteAtomic(ffs, path, func(w io.Writer) error {
		_, err := w.Write([]byte("x"))
		return err
	})
	assert.ErrorIs(t, err, ErrInjected)

	ok, err := Exists(nil, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	n, err := CopyFile(nil, src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFaultyFS(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("faulty", Fault{FailAfterBytes: 5})

	fpath := filepath.Join(tmp, "faulty.txt")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
	require.NoError(t, f.Close())

	// Files not matching any rule are unaffected.
	other, err := ffs.OpenFile(filepath.Join(tmp, "other.txt"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = other.Write([]byte("hello world"))
	assert.NoError(t, err)
	assert.NoError(t, other.Close())
}

func TestFaultyFS_RenameAndOpen(t *testing.T) {
	tmp := t.TempDir()
	custom := errors.New("disk on fire")
	ffs := NewFaultyFS(nil)
	ffs.AddRule("target", Fault{FailAfterBytes: -1, FailOnRename: true, Err: custom})
	ffs.AddRule("locked", Fault{FailAfterBytes: -1, FailOnOpen: true})

	src := filepath.Join(tmp, "src")
	require.NoError(t, os.WriteFile(src, nil, 0o644))
	assert.ErrorIs(t, ffs.Rename(src, filepath.Join(tmp, "target")), custom)

	_, err := ffs.OpenFile(filepath.Join(tmp, "locked"), os.O_CREATE|os.O_RDWR, 0o644)
	assert.ErrorIs(t, err, ErrInjected)

	ffs.ClearRules()
	assert.NoError(t, ffs.Rename(src, filepath.Join(tmp, "target")))
}

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")

	l1, err := AcquireLock(path, true, false)
	require.NoError(t, err)

	_, err = AcquireLock(path, true, false)
	assert.ErrorIs(t, err, ErrLocked)
	_, err = AcquireLock(path, false, false)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, l1.Release())

	s1, err := AcquireLock(path, false, false)
	require.NoError(t, err)
	s2, err := AcquireLock(path, false, false)
	require.NoError(t, err)
	assert.NoError(t, s1.Release())
	assert.NoError(t, s2.Release())

	var nilLock *Lock
	assert.NoError(t, nilLock.Release())
}
