package idb

import "fmt"

// Cursor iterates over the document ids present when it was created, in
// ascending order. Texts are read with Get. A Cursor is not safe for
// concurrent use.
type Cursor struct {
	ids []uint64
	pos int
}

// Cursor returns a cursor positioned before the first id.
func (db *DB) Cursor() (*Cursor, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if err := db.checkOpen(); err != nil {
		return nil, db.record("cursor", err)
	}
	return &Cursor{ids: db.docs.IDs()}, db.record("cursor", nil)
}

// Next returns the next id. It returns false at the end.
func (c *Cursor) Next() (uint64, bool) {
	if c.pos >= len(c.ids) {
		return 0, false
	}
	id := c.ids[c.pos]
	c.pos++
	return id, true
}

// Len returns the number of ids the cursor visits.
func (c *Cursor) Len() int { return len(c.ids) }

// Reset positions the cursor before the first id again.
func (c *Cursor) Reset() { c.pos = 0 }

// IterInit starts iterating over the handle's shared cursor.
func (db *DB) IterInit() error {
	c, err := db.Cursor()
	if err != nil {
		return err
	}
	db.iterMu.Lock()
	db.iter = c
	db.iterMu.Unlock()
	return nil
}

// IterNext returns the next id of the shared cursor, or 0 at the end (with
// ECodeNoRec recorded).
func (db *DB) IterNext() uint64 {
	db.iterMu.Lock()
	defer db.iterMu.Unlock()
	if db.iter == nil {
		_ = db.fail("iternext", ECodeInvalid, fmt.Errorf("%w: IterInit not called", ErrInvalid))
		return 0
	}
	id, ok := db.iter.Next()
	if !ok {
		db.ecode.Store(int32(ECodeNoRec))
		return 0
	}
	db.ecode.Store(int32(ECodeSuccess))
	return id
}
