package idb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/idb/internal/docstore"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/hupe1980/idb/internal/invindex"
	"github.com/hupe1980/idb/internal/manifest"
	"github.com/hupe1980/idb/internal/text"
	"github.com/hupe1980/idb/internal/wal"
)

// Open binds the handle to the database directory at path.
func (db *DB) Open(path string, mode OpenMode) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	err := db.open(path, mode)
	if err != nil {
		db.logger.Error("open failed", "path", path, "mode", mode.String(), "error", err)
	}
	return db.record("open", err)
}

func (db *DB) open(path string, mode OpenMode) (err error) {
	if db.isOpen() {
		return fmt.Errorf("%w: handle already open", ErrInvalid)
	}
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalid)
	}
	writer := mode.writer()
	if !writer && mode&(OCreate|OTrunc) != 0 {
		return fmt.Errorf("%w: create or truncate without writer", ErrInvalid)
	}
	fsys := db.opts.fs

	if writer && mode&OCreate != 0 {
		if err := fsys.MkdirAll(path, 0o755); err != nil {
			return err
		}
	}
	fi, err := fsys.Stat(path)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalid, path)
	}

	var cleanup []func() error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				_ = cleanup[i]()
			}
		}
	}()

	var lock *fs.Lock
	if mode&ONoLock == 0 {
		lock, err = fs.AcquireLock(filepath.Join(path, LockFile), writer, mode&OLockNB == 0)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, lock.Release)
	}

	if writer && mode&OTrunc != 0 {
		for _, name := range databaseFiles {
			if err := fsys.Remove(filepath.Join(path, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
	}

	man, err := manifest.Load(fsys, path)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		if !writer || mode&(OCreate|OTrunc) == 0 {
			return fmt.Errorf("%w: %s", os.ErrNotExist, manifest.Path(path))
		}
		man = manifest.New(db.tuning.resolved().manifest(), text.Q)
		man.Label = "idb"
		if err := manifest.Save(fsys, path, man); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if db.tuned && db.tuning.resolved().manifest() != man.Tuning {
			db.logger.Warn("tuning differs from the database; keeping the stored tuning",
				"path", path)
		}
	}
	if man.QGramSize != text.Q {
		return fmt.Errorf("%w: q-gram size %d", manifest.ErrIncompatibleVersion, man.QGramSize)
	}
	tuning := tuningFromManifest(man.Tuning)
	if err := tuning.validate(); err != nil {
		return fmt.Errorf("%w: %w", manifest.ErrCorrupt, err)
	}

	cc := db.cacheCfg.resolved()
	rc := db.opts.resource
	records := docstore.NewRecordCache(cc.RecordCacheBytes, rc)
	leaves := invindex.NewLeafCache(int64(cc.LeafCacheCount))

	docs, err := docstore.Open(filepath.Join(path, DocsFile), docstore.Options{
		FS:          fsys,
		Compression: tuning.compression(),
		AlignPower:  tuning.AlignmentPower,
		Large:       tuning.Options&TLarge != 0,
		BucketCount: int(tuning.BucketCount),
		Records:     records,
		Resource:    rc,
		Logger:      db.logger.Component("docstore"),
	})
	if err != nil {
		return err
	}
	cleanup = append(cleanup, docs.Close)

	openIndex := func(name, file string) (*invindex.Index, error) {
		ix, err := invindex.Open(name, filepath.Join(path, file), invindex.Options{
			FS:          fsys,
			Leaves:      leaves,
			Resource:    rc,
			BucketCount: int(tuning.BucketCount),
			Logger:      db.logger.Component("invindex"),
		})
		if err == nil {
			cleanup = append(cleanup, ix.Close)
		}
		return ix, err
	}
	qgrams, err := openIndex("qgram", QGramFile)
	if err != nil {
		return err
	}
	tokens, err := openIndex("token", TokenFile)
	if err != nil {
		return err
	}

	db.path = path
	db.mode = mode
	db.man = man
	db.docs = docs
	db.qgrams = qgrams
	db.tokens = tokens
	db.records = records
	db.leaves = leaves
	db.lock = lock
	db.pending = 0
	db.inconsistent = false
	db.journal = nil

	if writer {
		journal, err := wal.Open(fsys, filepath.Join(path, JournalFile), wal.Options{Durability: wal.DurabilityAsync})
		if err != nil {
			return err
		}
		cleanup = append(cleanup, journal.Close)
		db.journal = journal
	}
	if err := db.recover(); err != nil {
		return err
	}

	if writer {
		db.state = stateWriter
	} else {
		db.state = stateReader
	}
	db.logger.Info("database opened",
		"path", path,
		"mode", mode.String(),
		"records", docs.Len(),
		"lsn", db.lsn,
	)
	return nil
}

// recover replays the journal on top of the snapshots. When the index
// snapshots do not cover the same journal position as the document snapshot,
// the indexes are rebuilt in memory from the documents.
func (db *DB) recover() error {
	base := db.docs.LSN()
	consistent := db.qgrams.LSN() == base && db.tokens.LSN() == base
	if db.man.DocsLSN != base || db.man.QGramLSN != db.qgrams.LSN() || db.man.TokenLSN != db.tokens.LSN() {
		db.logger.Warn("manifest positions differ from snapshots",
			"docs", base, "qgram", db.qgrams.LSN(), "token", db.tokens.LSN(),
			"manifest_docs", db.man.DocsLSN)
	}

	applied := 0
	replay := func(rec *wal.Record) error {
		if rec.LSN <= base {
			return nil
		}
		applied++
		if consistent {
			return db.apply(rec)
		}
		return db.applyDocs(rec)
	}

	var stats wal.ReplayStats
	var err error
	if db.journal != nil {
		stats, err = db.journal.Replay(replay)
	} else {
		stats, err = wal.ReadFile(db.opts.fs, filepath.Join(db.path, JournalFile), replay)
	}
	db.logger.LogRecovery(applied, stats.TruncatedBytes, err)
	if err != nil {
		return err
	}

	db.lsn = max(base, stats.MaxLSN, db.qgrams.LSN(), db.tokens.LSN())
	db.pending = applied

	if !consistent {
		db.logger.Warn("index snapshots out of date; rebuilding indexes in memory",
			"docs", base, "qgram", db.qgrams.LSN(), "token", db.tokens.LSN())
		if err := db.rebuildInMemory(); err != nil {
			return err
		}
		db.inconsistent = true
	}
	return nil
}

func (db *DB) rebuildInMemory() error {
	if err := db.qgrams.Reset(); err != nil {
		return err
	}
	if err := db.tokens.Reset(); err != nil {
		return err
	}
	return db.docs.Scan(func(id uint64, doc []byte) bool {
		grams, tokens := units(doc)
		db.qgrams.Update(id, nil, grams)
		db.tokens.Update(id, nil, tokens)
		return true
	})
}

// Close checkpoints a writer and releases the database.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.isOpen() {
		return db.record("close", ErrNotOpen)
	}

	var errs []error
	if db.state == stateWriter {
		if err := db.checkpointLocked(context.Background()); err != nil {
			errs = append(errs, err)
		}
		if err := db.journal.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := db.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, db.release()...)

	err := errors.Join(errs...)
	if err != nil {
		db.logger.Error("close failed", "path", db.path, "error", err)
	} else {
		db.logger.Info("database closed", "path", db.path)
	}
	return db.record("close", err)
}

// release closes the stores and the lock without checkpointing.
func (db *DB) release() []error {
	var errs []error
	for _, c := range []interface{ Close() error }{db.docs, db.qgrams, db.tokens} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := db.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	db.iterMu.Lock()
	db.iter = nil
	db.iterMu.Unlock()

	db.state = stateClosed
	db.journal = nil
	db.docs = nil
	db.qgrams = nil
	db.tokens = nil
	db.lock = nil
	db.man = nil
	return errs
}

// Sync writes the journal to stable storage.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkWriter(); err != nil {
		return db.record("sync", err)
	}
	if err := db.journal.Sync(); err != nil {
		return db.fail("sync", ECodeSync, err)
	}
	return db.record("sync", nil)
}

// checkpointLocked writes new snapshots covering every journal record and
// empties the journal. On failure the previous snapshots and the journal
// stay in effect.
func (db *DB) checkpointLocked(ctx context.Context) (err error) {
	if db.pending == 0 && !db.inconsistent {
		return nil
	}
	start := time.Now()
	lsn := db.lsn
	defer func() {
		d := time.Since(start)
		db.metrics.RecordCheckpoint(db.docs.Len(), d, err)
		db.logger.LogCheckpoint(lsn, db.docs.Len(), d, err)
	}()

	if err := db.docs.Checkpoint(ctx, lsn); err != nil {
		return err
	}
	if err := db.qgrams.Checkpoint(ctx, lsn); err != nil {
		return err
	}
	if err := db.tokens.Checkpoint(ctx, lsn); err != nil {
		return err
	}
	return db.commitLocked(lsn)
}

// commitLocked records lsn in the manifest and drops the covered journal.
func (db *DB) commitLocked(lsn uint64) error {
	db.man.DocsLSN = lsn
	db.man.QGramLSN = lsn
	db.man.TokenLSN = lsn
	db.man.Records = db.docs.Len()
	if err := manifest.Save(db.opts.fs, db.path, db.man); err != nil {
		return err
	}
	if err := db.journal.Reset(); err != nil {
		return err
	}
	db.pending = 0
	db.inconsistent = false
	return nil
}

// maybeCheckpoint runs an automatic checkpoint once the journal is long enough.
func (db *DB) maybeCheckpoint() {
	power := db.man.Tuning.FreePower
	if power <= 0 || db.pending < 1<<power {
		return
	}
	if err := db.checkpointLocked(context.Background()); err != nil {
		db.logger.Warn("automatic checkpoint failed", "error", err)
	}
}

// Optimize rewrites the document snapshot and rebuilds both indexes from the
// documents. It repairs an inconsistent index.
func (db *DB) Optimize() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkWriter(); err != nil {
		return db.record("optimize", err)
	}
	return db.record("optimize", db.optimizeLocked(context.Background()))
}

func (db *DB) optimizeLocked(ctx context.Context) (err error) {
	start := time.Now()
	lsn := db.lsn
	repaired := db.inconsistent
	defer func() {
		d := time.Since(start)
		db.metrics.RecordCheckpoint(db.docs.Len(), d, err)
		if err != nil {
			db.logger.Error("optimize failed", "error", err)
			return
		}
		db.logger.Info("optimize completed",
			"records", db.docs.Len(),
			"duration", d,
			"repaired", repaired,
		)
	}()

	if err := db.docs.Checkpoint(ctx, lsn); err != nil {
		return err
	}
	grams, tokens, err := db.buildUnits(ctx)
	if err != nil {
		return err
	}
	if err := db.qgrams.Rebuild(ctx, lsn, grams); err != nil {
		return err
	}
	if err := db.tokens.Rebuild(ctx, lsn, tokens); err != nil {
		return err
	}
	if err := db.commitLocked(lsn); err != nil {
		return err
	}
	db.records.Purge()
	db.leaves.Purge()
	return nil
}

type document struct {
	id  uint64
	doc []byte
}

// buildUnits computes the postings of every unit from the stored documents
// on the resource controller's worker count.
func (db *DB) buildUnits(ctx context.Context) (grams, tokens map[string]*roaring64.Bitmap, err error) {
	workers := max(db.opts.resource.Workers(), 1)
	rc := db.opts.resource

	type partial struct {
		grams, tokens map[string]*roaring64.Bitmap
	}
	parts := make([]partial, workers)
	ch := make(chan document, 64)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		var sendErr error
		err := db.docs.Scan(func(id uint64, doc []byte) bool {
			select {
			case ch <- document{id: id, doc: append([]byte(nil), doc...)}:
				return true
			case <-gctx.Done():
				sendErr = gctx.Err()
				return false
			}
		})
		if err != nil {
			return err
		}
		return sendErr
	})
	for w := range workers {
		g.Go(func() error {
			if err := rc.AcquireBackground(gctx); err != nil {
				return err
			}
			defer rc.ReleaseBackground()

			p := partial{grams: map[string]*roaring64.Bitmap{}, tokens: map[string]*roaring64.Bitmap{}}
			for d := range ch {
				gs, ts := units(d.doc)
				addAll(p.grams, gs, d.id)
				addAll(p.tokens, ts, d.id)
			}
			parts[w] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	grams, tokens = parts[0].grams, parts[0].tokens
	for _, p := range parts[1:] {
		merge(grams, p.grams)
		merge(tokens, p.tokens)
	}
	return grams, tokens, nil
}

func addAll(m map[string]*roaring64.Bitmap, keys []string, id uint64) {
	for _, k := range keys {
		bm, ok := m[k]
		if !ok {
			bm = roaring64.New()
			m[k] = bm
		}
		bm.Add(id)
	}
}

func merge(dst, src map[string]*roaring64.Bitmap) {
	for k, bm := range src {
		if cur, ok := dst[k]; ok {
			cur.Or(bm)
		} else {
			dst[k] = bm
		}
	}
}

// Copy writes a consistent copy of the database files to the directory dst.
func (db *DB) Copy(dst string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.record("copy", db.copyLocked(dst))
}

func (db *DB) copyLocked(dst string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if same, err := samePath(db.path, dst); err != nil || same {
		if err == nil {
			err = fmt.Errorf("%w: copy onto itself", ErrInvalid)
		}
		return err
	}
	if db.journal != nil {
		if err := db.journal.Sync(); err != nil {
			return err
		}
	}
	if err := db.opts.fs.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, name := range databaseFiles {
		src := filepath.Join(db.path, name)
		ok, err := fs.Exists(db.opts.fs, src)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if _, err := fs.CopyFile(db.opts.fs, src, filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	db.logger.Info("database copied", "path", db.path, "dst", dst)
	return nil
}

func samePath(a, b string) (bool, error) {
	aa, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	bb, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return aa == bb, nil
}
