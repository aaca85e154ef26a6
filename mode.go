package idb

import (
	"fmt"
	"strings"

	"github.com/hupe1980/idb/internal/codec"
	"github.com/hupe1980/idb/internal/manifest"
	"github.com/hupe1980/idb/internal/search"
)

// OpenMode is a set of open flags.
type OpenMode uint32

const (
	// OReader opens the database read-only.
	OReader OpenMode = 1 << iota
	// OWriter opens the database for writing. It wins over OReader.
	OWriter
	// OCreate creates the database if it does not exist.
	OCreate
	// OTrunc removes an existing database first.
	OTrunc
	// ONoLock skips the cross-process lock.
	ONoLock
	// OLockNB fails with ECodeLock instead of waiting for the lock.
	OLockNB
	// OTSync syncs the journal after every write.
	OTSync
)

func (m OpenMode) writer() bool { return m&OWriter != 0 }

func (m OpenMode) String() string {
	names := []struct {
		flag OpenMode
		name string
	}{
		{OReader, "reader"}, {OWriter, "writer"}, {OCreate, "create"}, {OTrunc, "trunc"},
		{ONoLock, "nolock"}, {OLockNB, "locknb"}, {OTSync, "tsync"},
	}
	var parts []string
	for _, n := range names {
		if m&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "reader"
	}
	return strings.Join(parts, "|")
}

// SearchMode selects how a search expression is matched.
type SearchMode = search.Mode

const (
	// SSubstr matches documents containing the expression.
	SSubstr SearchMode = search.Substr
	// SPrefix matches documents starting with the expression.
	SPrefix SearchMode = search.Prefix
	// SSuffix matches documents ending with the expression.
	SSuffix SearchMode = search.Suffix
	// SFull matches documents equal to the expression.
	SFull SearchMode = search.Full
	// SToken matches documents containing every token of the expression.
	SToken SearchMode = search.Token
	// STokPre matches documents with a token starting with the expression.
	STokPre SearchMode = search.TokenPrefix
	// STokSuf matches documents with a token ending with the expression.
	STokSuf SearchMode = search.TokenSuffix
)

// ParseSearchMode parses a mode keyword such as "TOKPRE" or its number.
func ParseSearchMode(s string) (SearchMode, error) {
	return search.ParseMode(s)
}

// TuneOption is a set of storage options fixed at creation.
type TuneOption uint32

const (
	// TLarge allows document snapshots beyond 2 GiB.
	TLarge TuneOption = 1 << iota
	// TDeflate compresses records with DEFLATE.
	TDeflate
	// TBzip compresses records with the block codec (zstd).
	TBzip
	// TTCBS compresses records with LZ4.
	TTCBS
)

const (
	defaultBucketCount = 4096
	defaultAlignPower  = 4
	defaultFreePower   = 10
	maxAlignPower      = 16
	maxFreePower       = 30
)

// TuningParameters configures storage. A negative value keeps the default.
type TuningParameters struct {
	// BucketCount sizes the in-memory change tables.
	BucketCount int64
	// AlignmentPower aligns document records to 1<<AlignmentPower bytes.
	AlignmentPower int
	// FreeBlockPoolPower sets the journal length, 1<<FreeBlockPoolPower
	// records, that triggers an automatic checkpoint. 0 disables it.
	FreeBlockPoolPower int
	Options            TuneOption
}

// DefaultTuning returns tuning with every value at its default.
func DefaultTuning() TuningParameters {
	return TuningParameters{BucketCount: -1, AlignmentPower: -1, FreeBlockPoolPower: -1}
}

func (t TuningParameters) validate() error {
	switch {
	case t.BucketCount == 0 || t.BucketCount < -1:
		return fmt.Errorf("%w: bucket count %d", ErrInvalid, t.BucketCount)
	case t.AlignmentPower < -1 || t.AlignmentPower > maxAlignPower:
		return fmt.Errorf("%w: alignment power %d", ErrInvalid, t.AlignmentPower)
	case t.FreeBlockPoolPower < -1 || t.FreeBlockPoolPower > maxFreePower:
		return fmt.Errorf("%w: free block pool power %d", ErrInvalid, t.FreeBlockPoolPower)
	}
	n := 0
	for _, o := range []TuneOption{TDeflate, TBzip, TTCBS} {
		if t.Options&o != 0 {
			n++
		}
	}
	if n > 1 {
		return fmt.Errorf("%w: more than one compression option", ErrInvalid)
	}
	if t.Options&^(TLarge|TDeflate|TBzip|TTCBS) != 0 {
		return fmt.Errorf("%w: unknown options %#x", ErrInvalid, uint32(t.Options))
	}
	return nil
}

// resolved replaces defaults with concrete values.
func (t TuningParameters) resolved() TuningParameters {
	if t.BucketCount <= 0 {
		t.BucketCount = defaultBucketCount
	}
	if t.AlignmentPower < 0 {
		t.AlignmentPower = defaultAlignPower
	}
	if t.FreeBlockPoolPower < 0 {
		t.FreeBlockPoolPower = defaultFreePower
	}
	return t
}

func (t TuningParameters) compression() codec.Compression {
	switch {
	case t.Options&TDeflate != 0:
		return codec.Deflate
	case t.Options&TBzip != 0:
		return codec.Zstd
	case t.Options&TTCBS != 0:
		return codec.LZ4
	default:
		return codec.None
	}
}

func (t TuningParameters) manifest() manifest.Tuning {
	return manifest.Tuning{
		BucketCount: t.BucketCount,
		AlignPower:  int32(t.AlignmentPower),
		FreePower:   int32(t.FreeBlockPoolPower),
		Options:     uint32(t.Options),
	}
}

func tuningFromManifest(m manifest.Tuning) TuningParameters {
	return TuningParameters{
		BucketCount:        m.BucketCount,
		AlignmentPower:     int(m.AlignPower),
		FreeBlockPoolPower: int(m.FreePower),
		Options:            TuneOption(m.Options),
	}
}

const (
	defaultRecordCacheBytes = 128 << 20
	defaultLeafCacheCount   = 4096
)

// CacheConfig sizes the caches. A negative value keeps the default; 0
// disables the cache.
type CacheConfig struct {
	// RecordCacheBytes bounds decoded document texts.
	RecordCacheBytes int64
	// LeafCacheCount bounds cached postings lists.
	LeafCacheCount int32
}

// DefaultCacheConfig returns the default cache sizes.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{RecordCacheBytes: defaultRecordCacheBytes, LeafCacheCount: defaultLeafCacheCount}
}

func (c CacheConfig) resolved() CacheConfig {
	if c.RecordCacheBytes < 0 {
		c.RecordCacheBytes = defaultRecordCacheBytes
	}
	if c.LeafCacheCount < 0 {
		c.LeafCacheCount = defaultLeafCacheCount
	}
	return c
}
