package idb

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/idb/internal/docstore"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/hupe1980/idb/internal/invindex"
	"github.com/hupe1980/idb/internal/manifest"
	"github.com/hupe1980/idb/internal/search"
	"github.com/hupe1980/idb/internal/text"
	"github.com/hupe1980/idb/internal/wal"
)

// Version is the library version.
const Version = "0.1.0"

// Files inside a database directory.
const (
	DocsFile    = "docs.snap"
	QGramFile   = "qgram.idx"
	TokenFile   = "token.idx"
	JournalFile = "journal.wal"
	LockFile    = "LOCK"
)

// databaseFiles lists the files that make up a database, manifest first.
var databaseFiles = []string{manifest.FileName, DocsFile, QGramFile, TokenFile, JournalFile}

// MaxTextLen bounds the size of a document text.
const MaxTextLen = wal.MaxRecordSize - 1024

type state int

const (
	stateUnopened state = iota
	stateReader
	stateWriter
	stateClosed
)

// DB is a handle to an inverted-index document store.
//
// A DB is created unopened by New, configured with Tune and SetCache, bound to
// a directory by Open and released by Close. It can be reopened after Close.
type DB struct {
	mu sync.RWMutex

	opts     options
	logger   *Logger
	metrics  MetricsCollector
	tuning   TuningParameters
	tuned    bool
	cacheCfg CacheConfig

	fwmmax atomic.Uint32
	ecode  atomic.Int32

	state state
	path  string
	mode  OpenMode
	lock  *fs.Lock
	man   *manifest.Manifest

	journal *wal.WAL
	docs    *docstore.Store
	qgrams  *invindex.Index
	tokens  *invindex.Index
	records *docstore.RecordCache
	leaves  *invindex.LeafCache

	// lsn is the last assigned journal position.
	lsn uint64
	// pending counts journal records not yet covered by a checkpoint.
	pending int
	// inconsistent is set when the indexes were rebuilt in memory because
	// their snapshots did not match the document snapshot.
	inconsistent bool

	iterMu sync.Mutex
	iter   *Cursor
}

// New creates an unopened handle.
func New(optFns ...Option) *DB {
	o := applyOptions(optFns)
	db := &DB{
		opts:     o,
		logger:   o.logger,
		metrics:  o.metricsCollector,
		tuning:   DefaultTuning(),
		cacheCfg: DefaultCacheConfig(),
	}
	db.fwmmax.Store(search.DefaultFwmMax)
	return db
}

func (db *DB) isOpen() bool {
	return db.state == stateReader || db.state == stateWriter
}

func (db *DB) checkOpen() error {
	if !db.isOpen() {
		return ErrNotOpen
	}
	return nil
}

func (db *DB) checkWriter() error {
	if !db.isOpen() {
		return ErrNotOpen
	}
	if db.state != stateWriter {
		return ErrReadOnly
	}
	return nil
}

// Tune sets the storage tuning of databases created by the next Open.
// It fails while the handle is open.
func (db *DB) Tune(t TuningParameters) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.isOpen() {
		return db.record("tune", fmt.Errorf("%w: tune on open handle", ErrInvalid))
	}
	if err := t.validate(); err != nil {
		return db.record("tune", err)
	}
	db.tuning = t
	db.tuned = true
	return db.record("tune", nil)
}

// SetCache sizes the caches used by the next Open. It fails while the
// handle is open.
func (db *DB) SetCache(c CacheConfig) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.isOpen() {
		return db.record("setcache", fmt.Errorf("%w: setcache on open handle", ErrInvalid))
	}
	db.cacheCfg = c.resolved()
	return db.record("setcache", nil)
}

// SetFwmMax caps the number of tokens a token-prefix or token-suffix search
// expands to. 0 restores the default.
func (db *DB) SetFwmMax(n uint32) error {
	if n == 0 {
		n = search.DefaultFwmMax
	}
	db.fwmmax.Store(n)
	db.ecode.Store(int32(ECodeSuccess))
	return nil
}

// ECode returns the error code of the last call.
func (db *DB) ECode() ECode {
	return ECode(db.ecode.Load())
}

// Path returns the directory of the open database.
func (db *DB) Path() (string, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.isOpen() {
		db.ecode.Store(int32(ECodeInvalid))
		return "", false
	}
	return db.path, true
}

// RNum returns the number of stored documents, or 0 if the handle is not open.
func (db *DB) RNum() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.isOpen() {
		db.ecode.Store(int32(ECodeInvalid))
		return 0
	}
	return db.docs.Len()
}

// FSiz returns the total size of the database files in bytes, or 0 if the
// handle is not open.
func (db *DB) FSiz() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.isOpen() {
		db.ecode.Store(int32(ECodeInvalid))
		return 0
	}
	return uint64(db.fileSizeLocked())
}

func (db *DB) fileSizeLocked() int64 {
	var total int64
	for _, name := range databaseFiles {
		if name == JournalFile && db.journal != nil {
			total += db.journal.Size()
			continue
		}
		if fi, err := db.opts.fs.Stat(filepath.Join(db.path, name)); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// Stats describes an open database.
type Stats struct {
	Path         string
	Mode         OpenMode
	Records      uint64
	FileSize     int64
	QGramUnits   int
	TokenUnits   int
	Pending      int
	LSN          uint64
	Inconsistent bool
	Tuning       TuningParameters

	RecordCacheHits   int64
	RecordCacheMisses int64
	RecordCacheBytes  int64
	LeafCacheHits     int64
	LeafCacheMisses   int64
	LeafCacheLen      int
}

// Stat returns statistics of the open database.
func (db *DB) Stat() (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return Stats{}, db.record("stat", err)
	}

	qn, err := db.qgrams.Len()
	if err != nil {
		return Stats{}, db.record("stat", err)
	}
	tn, err := db.tokens.Len()
	if err != nil {
		return Stats{}, db.record("stat", err)
	}
	s := Stats{
		Path:         db.path,
		Mode:         db.mode,
		Records:      db.docs.Len(),
		FileSize:     db.fileSizeLocked(),
		QGramUnits:   qn,
		TokenUnits:   tn,
		Pending:      db.pending,
		LSN:          db.lsn,
		Inconsistent: db.inconsistent,
		Tuning:       tuningFromManifest(db.man.Tuning),
	}
	s.RecordCacheHits, s.RecordCacheMisses = db.records.Stats()
	s.RecordCacheBytes = db.records.Size()
	s.LeafCacheHits, s.LeafCacheMisses = db.leaves.Stats()
	s.LeafCacheLen = db.leaves.Len()
	return s, db.record("stat", nil)
}

// units returns the index units of a document text.
func units(doc []byte) (grams, tokens []string) {
	return text.QGrams(doc), text.Tokens(doc)
}
