package idb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/idb/internal/docstore"
	"github.com/hupe1980/idb/internal/wal"
)

// Put stores text under id, replacing any previous text. The id 0 is reserved.
func (db *DB) Put(id uint64, text []byte) (err error) {
	start := time.Now()
	defer func() {
		db.metrics.RecordPut(len(text), time.Since(start), err)
		db.logger.LogPut(id, len(text), err)
	}()

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkWriter(); err != nil {
		return db.record("put", err)
	}
	if id == 0 {
		return db.record("put", fmt.Errorf("%w: id 0", ErrInvalid))
	}
	if len(text) > MaxTextLen {
		return db.record("put", fmt.Errorf("%w: text of %d bytes exceeds %d", ErrInvalid, len(text), MaxTextLen))
	}
	return db.write("put", &wal.Record{Type: wal.RecordTypePut, ID: id, Text: text})
}

// Out removes the document id. A missing id fails with ECodeNoRec.
func (db *DB) Out(id uint64) (err error) {
	start := time.Now()
	defer func() {
		db.metrics.RecordOut(time.Since(start), err)
		db.logger.LogOut(id, err)
	}()

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkWriter(); err != nil {
		return db.record("out", err)
	}
	if id == 0 {
		return db.record("out", fmt.Errorf("%w: id 0", ErrInvalid))
	}
	if !db.docs.Has(id) {
		return db.record("out", fmt.Errorf("%w: id %d", ErrNotFound, id))
	}
	return db.write("out", &wal.Record{Type: wal.RecordTypeOut, ID: id})
}

// Vanish removes every document. The handle stays open.
func (db *DB) Vanish() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkWriter(); err != nil {
		return db.record("vanish", err)
	}
	if err := db.write("vanish", &wal.Record{Type: wal.RecordTypeVanish}); err != nil {
		return err
	}
	if err := db.checkpointLocked(context.Background()); err != nil {
		return db.record("vanish", err)
	}
	db.records.Purge()
	db.leaves.Purge()
	db.logger.Info("database vanished", "path", db.path)
	return db.record("vanish", nil)
}

// write journals rec and applies it. The caller holds the write lock.
func (db *DB) write(op string, rec *wal.Record) error {
	rec.LSN = db.lsn + 1
	if err := db.journal.Append(rec); err != nil {
		return db.fail(op, ECodeWrite, err)
	}
	db.lsn = rec.LSN
	db.pending++

	if err := db.apply(rec); err != nil {
		db.inconsistent = true
		db.logger.Error("apply failed; index marked inconsistent", "op", op, "id", rec.ID, "error", err)
		return db.record(op, err)
	}

	if db.mode&OTSync != 0 {
		if err := db.journal.Sync(); err != nil {
			return db.fail(op, ECodeSync, err)
		}
	}
	db.maybeCheckpoint()
	return db.record(op, nil)
}

// apply makes rec visible in the documents and both indexes.
func (db *DB) apply(rec *wal.Record) error {
	switch rec.Type {
	case wal.RecordTypePut:
		oldGrams, oldTokens, err := db.unitsOf(rec.ID)
		if err != nil {
			return err
		}
		grams, tokens := units(rec.Text)
		db.docs.Put(rec.ID, rec.Text)
		db.qgrams.Update(rec.ID, diff(oldGrams, grams), diff(grams, oldGrams))
		db.tokens.Update(rec.ID, diff(oldTokens, tokens), diff(tokens, oldTokens))
	case wal.RecordTypeOut:
		oldGrams, oldTokens, err := db.unitsOf(rec.ID)
		if err != nil {
			return err
		}
		if err := db.docs.Delete(rec.ID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			return err
		}
		db.qgrams.Update(rec.ID, oldGrams, nil)
		db.tokens.Update(rec.ID, oldTokens, nil)
	case wal.RecordTypeVanish:
		if err := db.docs.Reset(); err != nil {
			return err
		}
		if err := db.qgrams.Reset(); err != nil {
			return err
		}
		return db.tokens.Reset()
	default:
		return fmt.Errorf("%w: record type %d", ErrInvalid, rec.Type)
	}
	return nil
}

// applyDocs applies rec to the documents only.
func (db *DB) applyDocs(rec *wal.Record) error {
	switch rec.Type {
	case wal.RecordTypePut:
		db.docs.Put(rec.ID, rec.Text)
		return nil
	case wal.RecordTypeOut:
		if err := db.docs.Delete(rec.ID); err != nil {
			db.logger.Debug("replayed delete of missing record", "id", rec.ID)
		}
		return nil
	case wal.RecordTypeVanish:
		return db.docs.Reset()
	default:
		return fmt.Errorf("%w: record type %d", ErrInvalid, rec.Type)
	}
}

func (db *DB) unitsOf(id uint64) (grams, tokens []string, err error) {
	_, err = db.docs.View(id, func(doc []byte) {
		grams, tokens = units(doc)
	})
	return grams, tokens, err
}

// diff returns the elements of the sorted slice a missing from the sorted
// slice b.
func diff(a, b []string) []string {
	var out []string
	j := 0
	for _, s := range a {
		for j < len(b) && b[j] < s {
			j++
		}
		if j < len(b) && b[j] == s {
			continue
		}
		out = append(out, s)
	}
	return out
}
