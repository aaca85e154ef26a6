package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/idb"
)

func run(t *testing.T, argv ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"idbmgr", "--log-level", "error"}, argv...))
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	_, err := run(t, "create", "-td", "-bnum", "256", dir)
	require.NoError(t, err)

	_, err = run(t, "put", dir, "1", "alpha beta")
	require.NoError(t, err)
	_, err = run(t, "put", dir, "2", "beta gamma")
	require.NoError(t, err)

	tsv := filepath.Join(t.TempDir(), "docs.tsv")
	require.NoError(t, os.WriteFile(tsv, []byte("3\talpha gamma\n\n4\tdelta\n"), 0o644))
	out, err := run(t, "importtsv", dir, tsv)
	require.NoError(t, err)
	assert.Equal(t, "imported 2 records\n", out)

	out, err = run(t, "get", dir, "1")
	require.NoError(t, err)
	assert.Equal(t, "alpha beta\n", out)

	out, err = run(t, "search", "-m", "TOKEN", dir, "gamma")
	require.NoError(t, err)
	assert.Equal(t, "2\n3\n", out)

	out, err = run(t, "search", "-max", "1", dir, "a")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, "compound", "-pv", dir, "TOKEN alpha AND TOKEN gamma")
	require.NoError(t, err)
	assert.Equal(t, "3\talpha gamma\n", out)

	_, err = run(t, "out", dir, "4")
	require.NoError(t, err)

	out, err = run(t, "list", dir)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", out)

	_, err = run(t, "optimize", dir)
	require.NoError(t, err)

	out, err = run(t, "inform", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "record number: 3\n")
	assert.Contains(t, out, "bucket count: 256\n")
	assert.Contains(t, out, "options: deflate\n")

	cp := filepath.Join(t.TempDir(), "copy")
	_, err = run(t, "copy", dir, cp)
	require.NoError(t, err)

	bucket := t.TempDir()
	_, err = run(t, "backup", dir, bucket, "nightly")
	require.NoError(t, err)
	restored := filepath.Join(t.TempDir(), "restored")
	_, err = run(t, "restore", bucket, "nightly", restored)
	require.NoError(t, err)
	out, err = run(t, "list", restored)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", out)

	_, err = run(t, "vanish", dir)
	require.NoError(t, err)
	out, err = run(t, "list", dir)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCommands_Errors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	_, err := run(t, "create", dir)
	require.NoError(t, err)

	_, err = run(t, "get", dir, "9")
	assert.Equal(t, idb.ECodeNoRec, idb.CodeOf(err))

	_, err = run(t, "put", dir, "0", "zero")
	assert.Equal(t, idb.ECodeInvalid, idb.CodeOf(err))

	_, err = run(t, "put", dir)
	assert.ErrorIs(t, err, idb.ErrInvalid)

	_, err = run(t, "search", "-m", "FUZZY", dir, "x")
	assert.Error(t, err)

	_, err = run(t, "backup", "-s3", "-minio", dir, "b", "p")
	assert.ErrorIs(t, err, idb.ErrInvalid)

	_, err = run(t, "get", filepath.Join(t.TempDir(), "missing"), "1")
	assert.Equal(t, idb.ECodeNoFile, idb.CodeOf(err))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "idb "))
}
