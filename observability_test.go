package idb_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/hupe1980/idb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicMetricsCollector(t *testing.T) {
	metrics := &idb.BasicMetricsCollector{}
	db := openWriter(t, t.TempDir(), idb.WithMetricsCollector(metrics))

	require.NoError(t, db.Put(1, []byte("metric")))
	require.Error(t, db.Put(0, []byte("bad")))
	require.NoError(t, db.Out(1))
	require.Error(t, db.Out(1))

	_, _, err := db.Get(1)
	require.NoError(t, err)
	require.NoError(t, db.Put(2, []byte("hit")))
	_, _, err = db.Get(2)
	require.NoError(t, err)

	_, err = db.Search([]byte("hit"), idb.SSubstr)
	require.NoError(t, err)
	_, err = db.SearchCompound([]byte("hit OR metric"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s := metrics.GetStats()
	assert.Equal(t, int64(3), s.PutCount)
	assert.Equal(t, int64(1), s.PutErrors)
	assert.Equal(t, int64(9), s.PutBytes)
	assert.Equal(t, int64(2), s.OutCount)
	assert.Equal(t, int64(1), s.OutErrors)
	assert.Equal(t, int64(1), s.GetHits)
	assert.Equal(t, int64(1), s.GetMisses)
	assert.Equal(t, int64(1), s.SearchCount)
	assert.Equal(t, int64(1), s.SearchResults)
	assert.Equal(t, int64(1), s.CompoundCount)
	assert.Equal(t, int64(1), s.CheckpointCount)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := idb.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db := openWriter(t, t.TempDir(), idb.WithLogger(logger))

	require.NoError(t, db.Put(7, []byte("logged")))
	require.NoError(t, db.Close())

	out := buf.String()
	assert.Contains(t, out, `"msg":"database opened"`)
	assert.Contains(t, out, `"msg":"put completed"`)
	assert.Contains(t, out, `"msg":"checkpoint saved"`)
	assert.Contains(t, out, `"msg":"database closed"`)
}

func TestWithLogger_Nil(t *testing.T) {
	db := openWriter(t, t.TempDir(), idb.WithLogger(nil), idb.WithMetricsCollector(nil))
	require.NoError(t, db.Put(1, []byte("quiet")))
}
